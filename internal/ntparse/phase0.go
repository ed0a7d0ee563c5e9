package ntparse

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// ExtractDump extracts a dump's tar.gz archive into destDir if it isn't
// already there, mirroring extract_dump's "already extracted" short
// circuit (the dumps run tens of thousands of one-entity-per-file
// archives; re-extracting on every run would dominate Phase 0's runtime).
func ExtractDump(tarGzPath, destDir string) error {
	if entries, err := os.ReadDir(destDir); err == nil && len(entries) > 0 {
		return nil
	}

	f, err := os.Open(tarGzPath)
	if err != nil {
		return fmt.Errorf("open dump archive %s: %w", tarGzPath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip reader for %s: %w", tarGzPath, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extract dir %s: %w", destDir, err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry in %s: %w", tarGzPath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		// Dump archives are flat (no nested directories), but guard against
		// path traversal in the entry name regardless.
		name := filepath.Base(hdr.Name)
		if name == "" || name == "." || name == ".." {
			continue
		}
		dest := filepath.Join(destDir, name)
		out, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return fmt.Errorf("write %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close %s: %w", dest, err)
		}
	}
	return nil
}

// WalkDumpDir parses every entity file in a dump directory into a
// vocabulary term, skipping files with no usable label.
func WalkDumpDir(dir string, defaultType model.VocabType) ([]model.VocabTerm, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dump dir %s: %w", dir, err)
	}

	var terms []model.VocabTerm
	for i, entry := range entries {
		if entry.IsDir() || filepath.Base(entry.Name())[0] == '.' {
			continue
		}
		if i > 0 && i%5000 == 0 {
			logger.Info("parsing dump entities", "dir", dir, "parsed", i, "total", len(entries))
		}

		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			continue // unreadable entity file: skip, same as the Python harvester's bare except
		}
		term, err := ParseEntity(entry.Name(), f, defaultType)
		_ = f.Close()
		if err != nil {
			logger.Warn("failed to parse dump entity", "file", path, "error", err)
			continue
		}
		if term != nil {
			terms = append(terms, *term)
		}
	}
	return terms, nil
}

// RunPhase0 seeds the external vocabulary entries, then parses every
// configured dump directory (extracting its tar.gz archive first if
// needed) and upserts the resulting vocabulary terms.
func RunPhase0(ctx context.Context, st *store.Store, dumpsDir, extractTmpDir string) error {
	for _, term := range ExternalVocabSeed() {
		if err := st.UpsertVocabTerm(ctx, term); err != nil {
			return fmt.Errorf("seed external vocabulary %s: %w", term.ID, err)
		}
	}
	logger.Info("seeded external vocabulary entries", "count", len(ExternalVocabSeed()))

	if _, err := os.Stat(dumpsDir); os.IsNotExist(err) {
		logger.Warn("dumps directory not found, skipping phase 0 dump parsing", "dir", dumpsDir)
		return nil
	}

	var total int
	for _, cfg := range DumpConfigs {
		tarPath := filepath.Join(dumpsDir, cfg.Name+".tar.gz")
		if _, err := os.Stat(tarPath); os.IsNotExist(err) {
			logger.Info("dump archive not found, skipping", "name", cfg.Name)
			continue
		}

		extractDir := filepath.Join(extractTmpDir, "rm-dump-"+cfg.Name)
		if err := ExtractDump(tarPath, extractDir); err != nil {
			return fmt.Errorf("extract dump %s: %w", cfg.Name, err)
		}

		terms, err := WalkDumpDir(extractDir, cfg.DefaultType)
		if err != nil {
			return fmt.Errorf("walk dump %s: %w", cfg.Name, err)
		}

		for _, term := range terms {
			if err := st.UpsertVocabTerm(ctx, term); err != nil {
				return fmt.Errorf("upsert vocab term %s from dump %s: %w", term.ID, cfg.Name, err)
			}
		}
		logger.Info("parsed dump", "name", cfg.Name, "records", len(terms))
		total += len(terms)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	logger.Info("phase 0 complete", "total_vocabulary_records", total)
	return nil
}
