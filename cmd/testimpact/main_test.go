package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"testimpact/internal/types"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"invalid input", types.NewInvalidInput("cli", "bad MethodId"), exitUserError},
		{"timed out", types.NewTimedOut("cli", "plan query"), exitCancelled},
		{"disposed", types.NewDisposed("cli"), exitInternal},
		{"partial success", newPartialSuccess("2 parse errors"), exitPartialSuccess},
		{"plain error", errors.New("boom"), exitInternal},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("%s: exitCodeFor = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestFormatPath(t *testing.T) {
	got := formatPath([]types.MethodId{"A.Foo()", "B.Bar()"})
	want := "A.Foo() -> B.Bar()"
	if got != want {
		t.Errorf("formatPath = %q, want %q", got, want)
	}
}

func writeFixtureSolution(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	libDir := filepath.Join(root, "src", "MyApp")
	mustMkdirAll(t, libDir)
	mustWriteFile(t, filepath.Join(libDir, "MyApp.csproj"), `<Project Sdk="Microsoft.NET.Sdk"></Project>`)
	mustWriteFile(t, filepath.Join(libDir, "Foo.cs"), `
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
`)

	testDir := filepath.Join(root, "tests", "MyApp.Tests")
	mustMkdirAll(t, testDir)
	mustWriteFile(t, filepath.Join(testDir, "MyApp.Tests.csproj"), `<Project Sdk="Microsoft.NET.Sdk"></Project>`)
	mustWriteFile(t, filepath.Join(testDir, "FooTests.cs"), `
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
`)
	return root
}

func mustMkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunDiscover_FindsOneTest(t *testing.T) {
	logger = zap.NewNop()
	flagSolution = writeFixtureSolution(t)
	flagFormat = "text"
	flagOutput = ""
	t.Cleanup(func() { flagSolution = "."; flagFormat = "json" })

	var buf bytes.Buffer
	origStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	err := runDiscover(discoverCmd, nil)
	w.Close()
	os.Stdout = origStdout
	buf.ReadFrom(r)

	if err != nil {
		t.Fatalf("runDiscover returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "TestAdd") {
		t.Fatalf("expected output to mention TestAdd, got: %s", buf.String())
	}
}
