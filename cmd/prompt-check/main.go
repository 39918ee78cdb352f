package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/mcpharvest/internal/batch"
	"github.com/mcpharvest/internal/config"
	"github.com/mcpharvest/internal/prompts"
	"github.com/mcpharvest/pkg/models"
)

// maxFileSize skips large files when reading a checkout.
const maxFileSize = 256 * 1024

func main() {
	dir := flag.String("dir", "", "Repository checkout to render (required)")
	configPath := flag.String("config", "", "Configuration file")
	name := flag.String("name", "", "Repository name (default: directory name)")
	flag.Parse()
	if *dir == "" {
		log.Fatal("--dir is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	tpl, err := cfg.ExtractionTemplate()
	if err != nil {
		log.Fatal(err)
	}
	builder, err := prompts.NewBuilder(tpl, nil)
	if err != nil {
		log.Fatal(err)
	}

	files, err := readCheckout(*dir)
	if err != nil {
		log.Fatal(err)
	}

	meta := models.RepoMetadata{Name: *name}
	if meta.Name == "" {
		meta.Name = filepath.Base(filepath.Clean(*dir))
	}

	out := builder.Build(context.Background(), batch.TextFiles(files), meta)
	fmt.Println("---- RENDERED PROMPT ----")
	fmt.Println(out)
}

// readCheckout loads the top-level files and docs/ of a checkout, the same
// shape the crawler stores.
func readCheckout(root string) (map[string]string, error) {
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			if rel == "." || rel == "docs" {
				return nil
			}
			return filepath.SkipDir
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(body)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found in %s", root)
	}
	return files, nil
}
