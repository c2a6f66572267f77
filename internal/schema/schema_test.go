package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "xswap"}
	root.PersistentFlags().Bool("plain", false, "plain output")
	order := &cobra.Command{Use: "order", Short: "order cmds"}
	watch := &cobra.Command{Use: "watch <order-id>", Short: "watch an order", RunE: func(*cobra.Command, []string) error { return nil }}
	watch.Flags().Duration("max-wait", 0, "stop after")
	submit := &cobra.Command{Use: "submit", Short: "submit an order", RunE: func(*cobra.Command, []string) error { return nil }}
	submit.Flags().String("tx-hash", "", "tx hash")
	_ = submit.MarkFlagRequired("tx-hash")
	order.AddCommand(watch, submit)
	root.AddCommand(order)
	return root
}

func TestBuildSchema(t *testing.T) {
	s, err := Build(testTree(), "order watch")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "xswap order watch" || !s.Runnable {
		t.Fatalf("unexpected command: %+v", s)
	}
	if len(s.Args) != 1 || s.Args[0] != "order-id" {
		t.Fatalf("unexpected args: %v", s.Args)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "max-wait" {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if len(s.Inherited) != 1 || s.Inherited[0].Name != "plain" {
		t.Fatalf("unexpected inherited flags: %+v", s.Inherited)
	}
}

func TestBuildSchemaRequiredFlags(t *testing.T) {
	s, err := Build(testTree(), "order")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Runnable || len(s.Subcommands) != 2 {
		t.Fatalf("unexpected group: %+v", s)
	}
	var submit CommandSchema
	for _, sub := range s.Subcommands {
		if sub.Use == "submit" {
			submit = sub
		}
	}
	if len(submit.Flags) != 1 || !submit.Flags[0].Required {
		t.Fatalf("expected required tx-hash flag, got %+v", submit.Flags)
	}
}

func TestBuildSchemaUnknownCommand(t *testing.T) {
	if _, err := Build(testTree(), "order cancel"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
