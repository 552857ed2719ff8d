package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// rule forbids packages under From from importing anything under To.
type rule struct {
	From   string
	To     string
	Except []string
}

var rules = []rule{
	// transports stay ignorant of the engine; only the HTTP surface reads stats
	{From: "mirage/server/internal/net", To: "mirage/server/internal/sim", Except: []string{"mirage/server/internal/net"}},
	// the domain core never reaches outward
	{From: "mirage/server/internal/actor", To: "mirage/server/internal/sim"},
	{From: "mirage/server/internal/combat", To: "mirage/server/internal/sim"},
	{From: "mirage/server/internal/ai", To: "mirage/server/internal/sim"},
	{From: "mirage/server/internal/physics", To: "mirage/server/internal/combat"},
	{From: "mirage/server/logging", To: "mirage/server/internal/sim"},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	pkgs, err := decodePackages(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	if found := violations(pkgs, rules); len(found) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range found {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func decodePackages(r io.Reader) ([]packageInfo, error) {
	decoder := json.NewDecoder(r)
	var pkgs []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return pkgs, nil
			}
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
}

func violations(pkgs []packageInfo, rules []rule) []string {
	var out []string
	for _, pkg := range pkgs {
		for _, r := range rules {
			if !within(pkg.ImportPath, r.From) || excepted(pkg.ImportPath, r.Except) {
				continue
			}
			for _, imp := range pkg.Imports {
				if within(imp, r.To) {
					out = append(out, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func excepted(path string, except []string) bool {
	for _, e := range except {
		if path == e {
			return true
		}
	}
	return false
}
