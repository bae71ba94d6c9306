package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"testimpact/internal/engine"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List every test discovered in the solution",
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	result, err := h.DiscoverTests(ctx)
	if err != nil {
		return err
	}

	if err := writeResult(result, renderDiscover); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return newPartialSuccess(fmt.Sprintf("%d parse error(s) during discovery", len(result.Errors)))
	}
	return nil
}

func renderDiscover(v interface{}) string {
	result := v.(engine.DiscoverResult)
	var b strings.Builder
	fmt.Fprintln(&b, result.Summary)
	for _, t := range result.Tests {
		fmt.Fprintf(&b, "%-8s %-10s %s\n", t.Framework, t.Category, t.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Discover tests grouped by classifier category",
	RunE:  runCategorize,
}

func runCategorize(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	result, err := h.DiscoverTests(ctx)
	if err != nil {
		return err
	}

	grouped := make(map[string][]string)
	for _, t := range result.Tests {
		grouped[string(t.Category)] = append(grouped[string(t.Category)], string(t.ID))
	}

	if err := writeResult(grouped, renderCategorize); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return newPartialSuccess(fmt.Sprintf("%d parse error(s) during discovery", len(result.Errors)))
	}
	return nil
}

func renderCategorize(v interface{}) string {
	grouped := v.(map[string][]string)
	cats := make([]string, 0, len(grouped))
	for cat := range grouped {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	var b strings.Builder
	for _, cat := range cats {
		fmt.Fprintf(&b, "%s (%d)\n", cat, len(grouped[cat]))
		for _, id := range grouped[cat] {
			fmt.Fprintf(&b, "  %s\n", id)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
