// Package oai harvests the Rijksmuseum's OAI-PMH EDM feed (spec §4.2,
// Phase 1): paginate ListRecords, extract ProvidedCHO metadata and its
// vocabulary references, and persist artworks/mappings as each page lands.
// Grounded on harvest-vocabulary-db.py's fetch_oai_page/extract_records/
// run_phase1, generalized from its single hand-rolled ElementTree walk to a
// small generic XML tree (the same "decode attrs + chardata + any children"
// idiom used for untyped/foreign-namespace documents) so CHO_VOCAB_FIELDS
// stays a flat data table instead of one struct per EDM element.
package oai

import (
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/checkpoint"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// node is a generic XML element: enough structure to do ElementTree-style
// find/findall/iter over a document whose schema (EDM/ORE/rdaGr2/SKOS) we
// don't want to model one Go struct per element.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// children returns direct child elements matching local name.
func (n *node) children(local string) []node {
	var out []node
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			out = append(out, c)
		}
	}
	return out
}

func (n *node) child(local string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// descendants recursively finds every element (at any depth) matching
// local name, mirroring ElementTree's Element.iter().
func (n *node) descendants(local string) []node {
	var out []node
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			out = append(out, c)
		}
		out = append(out, c.descendants(local)...)
	}
	return out
}

// findDeep returns the first descendant at any depth matching local name.
func (n *node) findDeep(local string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
		if d := n.Nodes[i].findDeep(local); d != nil {
			return d
		}
	}
	return nil
}

// choVocabField pairs an EDM/Dublin Core element's local name with the
// mapping field it feeds, per CHO_VOCAB_FIELDS.
type choVocabField struct {
	elementLocal string
	field        model.MappingField
}

var choVocabFields = []choVocabField{
	{"subject", model.FieldSubject},
	{"medium", model.FieldMaterial},
	{"type", model.FieldType},
	{"creator", model.FieldCreator},
	{"spatial", model.FieldSpatial},
	{"technique", model.FieldTechnique},
}

// mappingRef is a (vocabulary ID, field) pair extracted from one record.
type mappingRef struct {
	vocabID string
	field   model.MappingField
}

// ExtractedRecord is one ProvidedCHO's artwork metadata plus its vocabulary
// references, ready to upsert into the store.
type ExtractedRecord struct {
	ObjectNumber string
	Title        string
	CreatorLabel string
	RightsURI    string
	SourceURI    string
	Mappings     []mappingRef
}

// Config carries the harvester's tunables, sourced from Config.OAI.
type Config struct {
	BaseURL        string
	MetadataPrefix string
	UserAgent      string
	CheckpointPath string
	PageTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	CommitEveryN   int
	ProgressEveryN int
}

// Harvester drives the OAI-PMH ListRecords/ListSets harvest.
type Harvester struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Harvester {
	return &Harvester{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.PageTimeout},
	}
}

// fetchPage GETs and parses one OAI-PMH page, retrying transient failures
// with the Python harvester's linear backoff (5s, 10s, 15s, ...). It makes
// one initial attempt plus up to MaxRetries retries (four total attempts at
// the default MaxRetries=3) before giving up.
func (h *Harvester) fetchPage(ctx context.Context, url string) (*node, error) {
	var lastErr error
	for attempt := 0; attempt < h.cfg.MaxRetries+1; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build oai request: %w", err)
		}
		req.Header.Set("User-Agent", h.cfg.UserAgent)

		resp, err := h.client.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var root node
				body, readErr := io.ReadAll(resp.Body)
				if readErr != nil {
					lastErr = fmt.Errorf("read oai response: %w", readErr)
				} else if decErr := xml.Unmarshal(body, &root); decErr != nil {
					lastErr = fmt.Errorf("decode oai response: %w", decErr)
				} else {
					return &root, nil
				}
			} else {
				lastErr = fmt.Errorf("oai page returned status %d", resp.StatusCode)
			}
		} else {
			lastErr = err
		}

		if attempt < h.cfg.MaxRetries {
			wait := h.cfg.RetryBaseDelay * time.Duration(attempt+1)
			logger.Warn("oai page fetch failed, retrying", "attempt", attempt+1, "wait", wait, "error", lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("oai page fetch exhausted retries: %w", lastErr)
}

var rdfResourceAttr = "resource"
var rdfAboutAttr = "about"

// extractResourceRef pulls a vocabulary ID from either serialization EDM
// uses for a reference: a flat rdf:resource attribute, or a nested child
// element carrying rdf:about.
func extractResourceRef(n node) string {
	if ref := n.attr(rdfResourceAttr); ref != "" {
		return lastSegment(ref)
	}
	for _, c := range n.Nodes {
		if ref := c.attr(rdfAboutAttr); ref != "" {
			return lastSegment(ref)
		}
	}
	return ""
}

func lastSegment(s string) string {
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// extractRecords extracts every non-deleted record's artwork metadata and
// vocabulary mappings from one ListRecords page.
func extractRecords(root *node) []ExtractedRecord {
	var out []ExtractedRecord

	for _, rec := range root.descendants("record") {
		header := rec.child("header")
		if header == nil || header.attr("status") == "deleted" {
			continue
		}

		var setSpecs []string
		for _, s := range header.children("setSpec") {
			if strings.TrimSpace(s.Text) != "" {
				setSpecs = append(setSpecs, strings.TrimSpace(s.Text))
			}
		}

		metadata := rec.child("metadata")
		if metadata == nil {
			continue
		}

		cho := metadata.findDeep("ProvidedCHO")
		if cho == nil {
			continue
		}

		var objectNumber string
		if id := cho.child("identifier"); id != nil {
			objectNumber = strings.TrimSpace(id.Text)
		}
		if objectNumber == "" {
			continue
		}

		// The CHO's own rdf:about is the Linked Art URI Tier-2 enrichment
		// (P4) later dereferences.
		sourceURI := cho.attr(rdfAboutAttr)

		var title string
		for _, t := range cho.children("title") {
			if t.Text == "" {
				continue
			}
			trimmed := strings.TrimSpace(t.Text)
			if len(trimmed) > 500 {
				trimmed = trimmed[:500]
			}
			if t.attr("lang") == "en" || title == "" {
				title = trimmed
			}
		}

		var mappings []mappingRef
		for _, cv := range choVocabFields {
			for _, el := range cho.children(cv.elementLocal) {
				if vid := extractResourceRef(el); vid != "" {
					mappings = append(mappings, mappingRef{vocabID: vid, field: cv.field})
				}
			}
		}

		var creatorLabel string
		for _, agent := range metadata.descendants("Agent") {
			about := agent.attr("about")
			isCreator := false
			for _, m := range mappings {
				if m.field == model.FieldCreator && strings.HasSuffix(about, m.vocabID) {
					isCreator = true
					break
				}
			}
			if !isCreator {
				continue
			}

			for _, pref := range agent.children("prefLabel") {
				if pref.Text == "" {
					continue
				}
				if pref.attr("lang") == "en" || creatorLabel == "" {
					creatorLabel = strings.TrimSpace(pref.Text)
				}
			}
			for _, bp := range agent.children("placeOfBirth") {
				if vid := extractResourceRef(bp); vid != "" {
					mappings = append(mappings, mappingRef{vocabID: vid, field: model.FieldBirthPlace})
				}
			}
			for _, dp := range agent.children("placeOfDeath") {
				if vid := extractResourceRef(dp); vid != "" {
					mappings = append(mappings, mappingRef{vocabID: vid, field: model.FieldDeathPlace})
				}
			}
			for _, prof := range agent.children("professionOrOccupation") {
				if vid := extractResourceRef(prof); vid != "" {
					mappings = append(mappings, mappingRef{vocabID: vid, field: model.FieldProfession})
				}
			}
		}

		for _, spec := range setSpecs {
			mappings = append(mappings, mappingRef{vocabID: spec, field: model.FieldCollectionSet})
		}

		var rightsURI string
		if agg := metadata.findDeep("Aggregation"); agg != nil {
			if rights := agg.child("rights"); rights != nil {
				rightsURI = rights.attr("resource")
			}
		}

		out = append(out, ExtractedRecord{
			ObjectNumber: objectNumber,
			Title:        title,
			CreatorLabel: creatorLabel,
			RightsURI:    rightsURI,
			SourceURI:    sourceURI,
			Mappings:     mappings,
		})
	}

	return out
}

// ListSets seeds the vocabulary table with collection_set terms from
// OAI-PMH's ListSets verb (spec §3.1 Phase 0.5 supplement).
func (h *Harvester) ListSets(ctx context.Context) ([]model.VocabTerm, error) {
	url := fmt.Sprintf("%s?verb=ListSets", h.cfg.BaseURL)
	root, err := h.fetchPage(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch ListSets: %w", err)
	}

	var terms []model.VocabTerm
	for _, set := range root.descendants("set") {
		spec := set.child("setSpec")
		name := set.child("setName")
		if spec == nil || name == nil {
			continue
		}
		setSpec := strings.TrimSpace(spec.Text)
		setName := strings.TrimSpace(name.Text)
		if setSpec == "" || setName == "" {
			continue
		}
		terms = append(terms, model.VocabTerm{
			ID:      setSpec,
			Type:    model.VocabSet,
			LabelEn: setName,
			LabelNl: setName,
		})
	}
	return terms, nil
}

// Run harvests every ListRecords page, upserting artworks and mappings as
// each page lands and checkpointing resumption state per spec §5.
func (h *Harvester) Run(ctx context.Context, st *store.Store, resume bool) error {
	url := fmt.Sprintf("%s?verb=ListRecords&metadataPrefix=%s", h.cfg.BaseURL, h.cfg.MetadataPrefix)
	page := 0
	runID := checkpoint.NewRunID()

	if resume {
		state, err := checkpoint.Load(h.cfg.CheckpointPath)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if state != nil {
			page = state.Page
			if state.RunID != "" {
				runID = state.RunID
			}
			url = fmt.Sprintf("%s?verb=ListRecords&resumptionToken=%s", h.cfg.BaseURL, state.ResumptionToken)
			logger.Info("resuming oai harvest", "run_id", runID, "page", page+1)
		}
	}

	start := time.Now()
	var totalArtworks, totalMappings int
	commitEveryN := h.cfg.CommitEveryN
	if commitEveryN <= 0 {
		commitEveryN = 1
	}

	var pending []ExtractedRecord
	var pendingCheckpoint *checkpoint.OAIState
	pagesInBatch := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := h.writePage(ctx, st, pending); err != nil {
			return fmt.Errorf("write batch ending at page %d: %w", page, err)
		}
		pending = nil
		pagesInBatch = 0
		if pendingCheckpoint != nil {
			if err := checkpoint.Save(h.cfg.CheckpointPath, *pendingCheckpoint); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			pendingCheckpoint = nil
		}
		return nil
	}

	for url != "" {
		page++
		root, err := h.fetchPage(ctx, url)
		if err != nil {
			return fmt.Errorf("page %d: %w (resume with --resume to continue)", page, err)
		}

		records := extractRecords(root)
		pending = append(pending, records...)
		pagesInBatch++
		totalArtworks += len(records)
		for _, r := range records {
			totalMappings += len(r.Mappings)
		}

		tokenNode := root.findDeep("resumptionToken")
		if tokenNode != nil && strings.TrimSpace(tokenNode.Text) != "" {
			token := strings.TrimSpace(tokenNode.Text)
			url = fmt.Sprintf("%s?verb=ListRecords&resumptionToken=%s", h.cfg.BaseURL, token)
			state := checkpoint.OAIState{RunID: runID, ResumptionToken: token, Page: page}
			pendingCheckpoint = &state
		} else {
			url = ""
		}

		if pagesInBatch >= commitEveryN || url == "" {
			if err := flush(); err != nil {
				return err
			}
		}

		if h.cfg.ProgressEveryN > 0 && page%h.cfg.ProgressEveryN == 0 {
			elapsed := time.Since(start)
			rate := float64(page) / elapsed.Minutes()
			logger.Info("oai harvest progress",
				"run_id", runID, "page", page, "artworks", totalArtworks, "mappings", totalMappings,
				"pages_per_min", rate)
		}
	}

	if err := flush(); err != nil {
		return err
	}

	logger.Info("oai harvest complete", "run_id", runID, "artworks", totalArtworks, "mappings", totalMappings, "pages", page,
		"elapsed", time.Since(start))

	return checkpoint.Clear(h.cfg.CheckpointPath)
}

// writePage upserts one or more pages' worth of records in a single
// transaction — the caller batches CommitEveryN pages together before
// calling this, per spec §5's "commit DB writes every N pages" checkpoint
// contract.
func (h *Harvester) writePage(ctx context.Context, st *store.Store, records []ExtractedRecord) error {
	return st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO artworks (object_number, title, creator_label, rights_uri, source_uri)
				VALUES (?, ?, ?, ?, ?)
			`, rec.ObjectNumber, nullIfEmpty(rec.Title), nullIfEmpty(rec.CreatorLabel), nullIfEmpty(rec.RightsURI), nullIfEmpty(rec.SourceURI)); err != nil {
				return fmt.Errorf("upsert artwork %s: %w", rec.ObjectNumber, err)
			}
			for _, m := range rec.Mappings {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO mappings (object_number, vocab_id, field) VALUES (?, ?, ?)
				`, rec.ObjectNumber, m.vocabID, string(m.field)); err != nil {
					return fmt.Errorf("insert mapping (%s,%s,%s): %w", rec.ObjectNumber, m.vocabID, m.field, err)
				}
			}
		}
		return nil
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
