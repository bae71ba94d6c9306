package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"testimpact/internal/config"
)

func writeSolution(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	libDir := filepath.Join(root, "src", "MyApp")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "MyApp.csproj"), []byte(`<Project Sdk="Microsoft.NET.Sdk"></Project>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "Foo.cs"), []byte(`
namespace MyApp
{
    public class Foo
    {
        public int Add(int a, int b)
        {
            return a + b;
        }
    }
}
`), 0o644))

	testDir := filepath.Join(root, "tests", "MyApp.Tests")
	require.NoError(t, os.MkdirAll(testDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "MyApp.Tests.csproj"), []byte(`<Project Sdk="Microsoft.NET.Sdk"></Project>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "FooTests.cs"), []byte(`
using NUnit.Framework;

namespace MyApp.Tests
{
    public class FooTests
    {
        [Test]
        public void TestAdd()
        {
            var sut = new Foo();
            Assert.AreEqual(3, sut.Add(1, 2));
        }
    }
}
`), 0o644))

	return root
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func TestHandleDiscover(t *testing.T) {
	root := writeSolution(t)
	cfg := config.Default(runtime.NumCPU())
	srv := httptest.NewServer(NewMux(cfg))
	defer srv.Close()

	resp := postJSON(t, srv, "/discover", solutionRequest{SolutionRoot: root})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded struct {
		Tests []struct {
			ID string `json:"id"`
		} `json:"Tests"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
}

func TestHandleDiscover_MissingSolutionRoot(t *testing.T) {
	cfg := config.Default(runtime.NumCPU())
	srv := httptest.NewServer(NewMux(cfg))
	defer srv.Close()

	resp := postJSON(t, srv, "/discover", solutionRequest{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStats(t *testing.T) {
	root := writeSolution(t)
	cfg := config.Default(runtime.NumCPU())
	srv := httptest.NewServer(NewMux(cfg))
	defer srv.Close()

	resp := postJSON(t, srv, "/stats", solutionRequest{SolutionRoot: root})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	cfg := config.Default(runtime.NumCPU())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", cfg) }()

	cancel()
	require.NoError(t, <-done)
}
