package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"traffic-sim/internal/roadmap"
)

func main() {
	var outPath, checkPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema, - for stdout")
	flag.StringVar(&checkPath, "check", "", "map file to load and summarise instead")
	flag.Parse()

	if checkPath != "" {
		if err := check(checkPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", checkPath, err)
			os.Exit(1)
		}
		return
	}

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	changed, err := emit(outPath, buildSchema(), os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "map schema: %v\n", err)
		os.Exit(1)
	}
	if outPath != "-" && !changed {
		fmt.Fprintf(os.Stderr, "%s unchanged\n", outPath)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(roadmap.Document))
	schema.Title = "Traffic Road Map"
	schema.Description = "Intersections and roads loaded by the traffic server with -map"
	return schema
}

// emit writes schema to out, or to stdout when out is "-". A file that
// already holds the same bytes is not rewritten, so regenerating keeps
// its mtime.
func emit(out string, schema *jsonschema.Schema, stdout io.Writer) (bool, error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return false, err
	}
	data = append(data, '\n')

	if out == "-" {
		_, err := stdout.Write(data)
		return true, err
	}
	if prev, err := os.ReadFile(out); err == nil && bytes.Equal(prev, data) {
		return false, nil
	}

	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(out)+".*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name()) // no-op once renamed
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return false, err
	}
	return true, os.Rename(tmp.Name(), out)
}

// check runs a map file through the same loader the server uses
func check(path string) error {
	m, err := roadmap.Load(path)
	if err != nil {
		return err
	}
	b := m.Bounds()
	fmt.Printf("%s: %d intersections, %d roads, bounds [%g,%g]-[%g,%g]\n",
		m.Name, len(m.Intersections()), len(m.Roads()), b.MinX, b.MinY, b.MaxX, b.MaxY)
	return nil
}
