// Command archcheck fails when a package imports across a forbidden layer boundary.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "otogi-invite/"

// boundary forbids packages under from importing packages under to.
type boundary struct {
	from string
	to   string
}

var boundaries = []boundary{
	{from: "pkg/otogi", to: "internal/"},
	{from: "pkg/otogi", to: "modules/"},
	{from: "internal/kernel", to: "internal/driver"},
	{from: "internal/kernel", to: "internal/httpapi"},
	{from: "internal/kernel", to: "modules/"},
	{from: "internal/driver", to: "modules/"},
	{from: "internal/driver", to: "internal/httpapi"},
	{from: "internal/httpapi", to: "internal/driver"},
	{from: "modules/", to: "internal/"},
}

type goPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := findViolations(packages)
	if len(violations) == 0 {
		fmt.Println("arch-check: passed")
		return
	}

	fmt.Println("arch-check: architecture violations:")
	for _, violation := range violations {
		fmt.Printf("  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]goPackage, error) {
	var stdout bytes.Buffer
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}

	return decodePackages(&stdout)
}

// decodePackages reads the concatenated JSON objects go list prints.
func decodePackages(r io.Reader) ([]goPackage, error) {
	decoder := json.NewDecoder(r)
	var packages []goPackage
	for {
		var pkg goPackage
		err := decoder.Decode(&pkg)
		if errors.Is(err, io.EOF) {
			return packages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath != "" {
			packages = append(packages, pkg)
		}
	}
}

func findViolations(packages []goPackage) []string {
	var violations []string
	for _, pkg := range packages {
		imports := slices.Concat(pkg.Imports, pkg.TestImports, pkg.XTestImports)
		for _, imported := range imports {
			if rule, ok := crossedBoundary(pkg.ImportPath, imported); ok {
				violations = append(violations, fmt.Sprintf(
					"%s -> %s (%s must not import %s*)",
					pkg.ImportPath, imported, strings.TrimSuffix(rule.from, "/"), rule.to,
				))
			}
		}
	}
	slices.Sort(violations)

	return slices.Compact(violations)
}

func crossedBoundary(importer, imported string) (boundary, bool) {
	for _, rule := range boundaries {
		if strings.HasPrefix(importer, modulePrefix+rule.from) && strings.HasPrefix(imported, modulePrefix+rule.to) {
			return rule, true
		}
	}

	return boundary{}, false
}
