package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/skumatch/engine/batch"
	"github.com/WessleyAI/skumatch/engine/events"
	"github.com/WessleyAI/skumatch/engine/export"
)

const catalogCSV = "sku,standard_name,category,manufacturer,description,unit_price\n" +
	"SKU001,2 inch PVC pipe schedule 40,Plumbing,Charlotte Pipe,PVC pipe,3.50\n" +
	"SKU002,Copper elbow 90 degree 1/2 inch,Plumbing,Mueller,copper fitting,1.10\n" +
	"SKU003,Stainless steel hex bolt M8,Fasteners,Bossard,hex bolt,0.35\n"

const configYAML = `
log:
  level: error
embedding:
  provider: local
  dimensions: 2048
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := writeFile(t, t.TempDir(), "config.yaml", configYAML)
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ce cliError
	require.True(t, errors.As(err, &ce), "expected cliError, got %T: %v", err, err)
	return ce.code
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "skumatch dev\n", out)
}

func TestIndex(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.csv", catalogCSV)

	out, err := execute(t, "index", "--catalog", path)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 3 products")

	out, err = execute(t, "index", "--catalog", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "3 valid products")
}

func TestIndexInvalidCatalog(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.csv", catalogCSV+"SKU001,dup,x,y,z,1\n")

	_, err := execute(t, "index", "--catalog", path)
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(t, err))
	assert.Contains(t, err.Error(), "duplicate sku")
}

func TestIndexRequiresCatalog(t *testing.T) {
	_, err := execute(t, "index")
	assert.Error(t, err)
}

func TestMatchJSON(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalog.csv", catalogCSV)
	items := writeFile(t, dir, "items.json", `{"rfq_id":"RFQ-1","line_items":[
		{"line_item":"2\" PVC Pipe, Schedule 40","quantity":100,"unit":"ft"},
		{"line_item":"hex bolt M8"}
	]}`)

	out, err := execute(t, "match", "--catalog", cat, "--items", items)
	require.NoError(t, err)

	var res struct {
		Status    batch.Status     `json:"status"`
		LineItems []map[string]any `json:"line_items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, batch.StatusCompleted, res.Status)
	require.Len(t, res.LineItems, 2)
	assert.Equal(t, "SKU001", res.LineItems[0]["matched_sku"])
	assert.Equal(t, 100.0, res.LineItems[0]["quantity"])
	assert.Equal(t, "SKU003", res.LineItems[1]["matched_sku"])
}

func TestMatchCSV(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalog.csv", catalogCSV)
	items := writeFile(t, dir, "items.csv", "line_item,quantity,unit\ncopper elbow 1/2 inch,20,ea\n")

	out, err := execute(t, "match", "--catalog", cat, "--items", items, "--format", "csv", "--rfq-id", "RFQ-9")
	require.NoError(t, err)

	recs, err := csv.NewReader(bytes.NewBufferString(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, export.Columns, recs[0])
	assert.Equal(t, "copper elbow 1/2 inch", recs[1][1])
	assert.Equal(t, "20", recs[1][2])
	assert.Equal(t, "SKU002", recs[1][6])
}

func TestMatchInvalidItems(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalog.csv", catalogCSV)

	tests := map[string]string{
		"schema":      `{"line_items":[{"quantity":1}]}`,
		"empty text":  `{"line_items":[{"line_item":""}]}`,
		"rfq_id diff": `{"rfq_id":"A","line_items":[{"rfq_id":"B","line_item":"pipe"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			items := writeFile(t, t.TempDir(), "items.json", body)
			_, err := execute(t, "match", "--catalog", cat, "--items", items)
			require.Error(t, err)
			assert.Equal(t, exitValidation, exitCode(t, err))
		})
	}
}

func TestMatchUnknownFormat(t *testing.T) {
	_, err := execute(t, "match", "--catalog", "c.csv", "--items", "i.json", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(t, err))
}

func TestEventsPrintsReceivedEvents(t *testing.T) {
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	ns.Start()
	defer ns.Shutdown()
	require.True(t, ns.ReadyForConnections(2*time.Second))

	cfg := writeFile(t, t.TempDir(), "config.yaml", configYAML)
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfg, "events", "--nats-url", ns.ClientURL(), "--count", "1"})
	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	pub := events.NewNATS(nc, nil)

	// Publish until the command has subscribed and exited after one event.
	deadline := time.After(5 * time.Second)
	for {
		pub.RFQMatched(context.Background(), events.RFQMatched{RFQID: "RFQ-9", Status: "completed", Total: 2, Matched: 2})
		require.NoError(t, nc.Flush())
		select {
		case err := <-done:
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, 1)
			var e events.Received
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
			assert.Equal(t, events.SubjectRFQMatched, e.Subject)
			require.NotNil(t, e.RFQ)
			assert.Equal(t, "RFQ-9", e.RFQ.RFQID)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("events command did not exit")
		}
	}
}

func TestEventsRequiresServer(t *testing.T) {
	_, err := execute(t, "events")
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(t, err))
}
