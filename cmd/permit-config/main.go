package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/permit"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-config - Configuration tool for permit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-config convert <input> <output>  - Convert between formats")
	fmt.Println("  permit-config validate <file>           - Validate configuration")
	fmt.Println("  permit-config stats <file>              - Show configuration statistics")
	fmt.Println("  permit-config apply <file>              - Dry-run apply against in-memory stores")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func loadConfig(path string) *permit.Config {
	cfg, err := permit.NewConfigLoader().LoadFile(path)
	if err != nil {
		fmt.Printf("Error loading %s: %v\n", path, err)
		os.Exit(1)
	}
	return cfg
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config convert <input> <output>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])
	out := os.Args[3]
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(out)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		fmt.Printf("Unsupported output format: %s\n", filepath.Ext(out))
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error encoding: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Printf("Error writing %s: %v\n", out, err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], out)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config validate <file>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Configuration is valid")
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config stats <file>")
		os.Exit(1)
	}
	stats := loadConfig(os.Args[2]).Stats()
	fmt.Printf("Tenants:          %d\n", stats.Tenants)
	fmt.Printf("Resources:        %d\n", stats.Resources)
	fmt.Printf("Permission codes: %d\n", stats.PermissionCodes)
	fmt.Printf("Policies:         %d\n", stats.Policies)
	fmt.Printf("Rules:            %d\n", stats.Rules)
	fmt.Printf("Roles:            %d\n", stats.Roles)
	fmt.Printf("Bindings:         %d\n", stats.Bindings)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config apply <file>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])

	reg := permit.NewRegistry()
	engine := permit.NewPolicyEngine()
	resolver, err := permit.NewResolver(permit.NewMemoryRoleStore(), permit.NewMemoryBindingStore())
	if err != nil {
		fmt.Printf("Error building resolver: %v\n", err)
		os.Exit(1)
	}
	tenants := permit.NewMemoryTenantStore()

	if err := cfg.Apply(context.Background(), reg, engine, resolver, tenants); err != nil {
		fmt.Printf("Apply failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Applied: %d policies, %d permission codes\n", len(engine.Policies()), len(reg.AllPermissionCodes()))
}
