package distribution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXSDClosureFollowsImports(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/tax/entry.xsd", "application/xml", []byte(`
		<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"
		           xmlns:link="http://www.xbrl.org/2003/linkbase"
		           xmlns:xlink="http://www.w3.org/1999/xlink">
			<xs:import schemaLocation="types.xsd" namespace="urn:x"/>
			<xs:include schemaLocation="https://example.com/tax/defs.xsd"/>
			<link:linkbaseRef xlink:href="labels.xml"/>
		</xs:schema>`))
	client.serve("https://example.com/tax/types.xsd", "application/xml", []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"/>`))
	client.serve("https://example.com/tax/defs.xsd", "application/xml", []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"/>`))
	client.serve("https://example.com/tax/labels.xml", "application/xml", []byte(`<linkbase/>`))

	dir := t.TempDir()
	res := NewXSDHandler(client, 3).Download(context.Background(), "https://example.com/tax/entry.xsd", dir)
	require.True(t, res.Success)
	assert.Equal(t, 4, res.FilesExtracted)
	assert.FileExists(t, filepath.Join(dir, "entry.xsd"))
	assert.FileExists(t, filepath.Join(dir, "types.xsd"))
	assert.FileExists(t, filepath.Join(dir, "defs.xsd"))
	assert.FileExists(t, filepath.Join(dir, "labels.xml"))
}

func TestXSDClosureBoundedDepth(t *testing.T) {
	client := newFakeClient()
	schema := func(next string) []byte {
		return []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:import schemaLocation="` + next + `"/></xs:schema>`)
	}
	client.serve("https://example.com/a.xsd", "application/xml", schema("b.xsd"))
	client.serve("https://example.com/b.xsd", "application/xml", schema("c.xsd"))
	client.serve("https://example.com/c.xsd", "application/xml", schema("d.xsd"))
	client.serve("https://example.com/d.xsd", "application/xml", schema("e.xsd"))
	client.serve("https://example.com/e.xsd", "application/xml", schema("f.xsd"))

	dir := t.TempDir()
	res := NewXSDHandler(client, 2).Download(context.Background(), "https://example.com/a.xsd", dir)
	require.True(t, res.Success)
	// depth 0, 1, 2 are fetched; the depth-2 document is saved but not recursed into
	assert.Equal(t, 3, res.FilesExtracted)
	assert.NoFileExists(t, filepath.Join(dir, "d.xsd"))
}

func TestXSDClosureCycleTerminates(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/a.xsd", "application/xml",
		[]byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:import schemaLocation="b.xsd"/></xs:schema>`))
	client.serve("https://example.com/b.xsd", "application/xml",
		[]byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:import schemaLocation="a.xsd"/></xs:schema>`))

	dir := t.TempDir()
	res := NewXSDHandler(client, 5).Download(context.Background(), "https://example.com/a.xsd", dir)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.FilesExtracted)
}

func TestXSDMissingDependencySkipped(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/a.xsd", "application/xml",
		[]byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:import schemaLocation="missing.xsd"/></xs:schema>`))

	dir := t.TempDir()
	res := NewXSDHandler(client, 3).Download(context.Background(), "https://example.com/a.xsd", dir)
	require.True(t, res.Success, "missing dependencies do not fail the primary document")
	assert.Equal(t, 1, res.FilesExtracted)
}

func TestXSDPrimaryFailure(t *testing.T) {
	client := newFakeClient()
	dir := t.TempDir()

	res := NewXSDHandler(client, 3).Download(context.Background(), "https://example.com/gone.xsd", dir)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.FilesExtracted)
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "entry.xsd", documentName("https://example.com/tax/entry.xsd", ""))
	assert.Equal(t, "accounts.xhtml", documentName("https://example.com/document/abc/content", "application/xhtml+xml"))
	assert.Equal(t, "accounts.pdf", documentName("https://example.com/document/abc/content", "application/pdf"))
	assert.Equal(t, "schema.xsd", documentName("https://example.com/document/abc/content", ""))
}

func TestDirectoryMirror(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/filings/", "text/html", []byte(`<html><body>
		<a href="../">Parent Directory</a>
		<a href="?C=M;O=A">sort by date</a>
		<a href="report.xhtml">report.xhtml</a>
		<a href="data.xml">data.xml</a>
		<a href="sub/">sub/</a>
		<a href="https://other.example.org/offsite.zip">offsite</a>
	</body></html>`))
	client.serve("https://example.com/filings/report.xhtml", "application/xhtml+xml", []byte("<html/>"))
	client.serve("https://example.com/filings/data.xml", "application/xml", []byte("<data/>"))
	client.serve("https://example.com/filings/sub/", "text/html", []byte(`<a href="nested.xml">nested.xml</a>`))
	client.serve("https://example.com/filings/sub/nested.xml", "application/xml", []byte("<n/>"))

	dir := t.TempDir()
	res := NewDirectoryHandler(client, 3).Mirror(context.Background(), "https://example.com/filings/", dir)
	require.True(t, res.Success)
	assert.Equal(t, 3, res.FilesExtracted)
	assert.FileExists(t, filepath.Join(dir, "report.xhtml"))
	assert.FileExists(t, filepath.Join(dir, "data.xml"))
	assert.FileExists(t, filepath.Join(dir, "sub", "nested.xml"))
	assert.NoFileExists(t, filepath.Join(dir, "offsite.zip"))
}

func TestDirectoryMirrorBoundedDepth(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/d/", "text/html", []byte(`<a href="one/">one/</a>`))
	client.serve("https://example.com/d/one/", "text/html", []byte(`<a href="two/">two/</a>`))
	client.serve("https://example.com/d/one/two/", "text/html", []byte(`<a href="deep.xml">deep.xml</a>`))
	client.serve("https://example.com/d/one/two/deep.xml", "application/xml", []byte("<x/>"))

	dir := t.TempDir()
	res := NewDirectoryHandler(client, 1).Mirror(context.Background(), "https://example.com/d/", dir)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.FilesExtracted, "recursion past the depth limit is skipped")
	assert.NoFileExists(t, filepath.Join(dir, "one", "two", "deep.xml"))
}

func TestDirectoryMirrorListingFailure(t *testing.T) {
	client := newFakeClient()
	dir := t.TempDir()

	res := NewDirectoryHandler(client, 3).Mirror(context.Background(), "https://example.com/missing/", dir)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestProcessorArchiveRoute(t *testing.T) {
	client := newFakeClient()
	zipDir := t.TempDir()
	zipPath := writeZip(t, zipDir, map[string]string{
		"report.xhtml": "<html/>",
		"entry.xsd":    "<schema/>",
	})
	payload, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	client.serve("https://example.com/filing.zip", "application/zip", payload)

	target := filepath.Join(t.TempDir(), "out")
	p := NewProcessor(client, ProcessorConfig{
		TempDir:            t.TempDir(),
		MaxArchiveSize:     1 << 20,
		MaxExtractionDepth: 10,
	})
	res := p.Process(context.Background(), "https://example.com/filing.zip", target)
	require.True(t, res.Success)
	assert.Equal(t, TypeArchive, res.Detection.Type)
	require.NotNil(t, res.Download)
	assert.True(t, res.Download.Success)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, 2, res.Extraction.FilesExtracted)
	assert.FileExists(t, filepath.Join(target, "report.xhtml"))
}

func TestProcessorIXBRLRoute(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/reports/annual.xhtml", "application/xhtml+xml", []byte("<html/>"))

	target := filepath.Join(t.TempDir(), "out")
	p := NewProcessor(client, ProcessorConfig{TempDir: t.TempDir()})
	res := p.Process(context.Background(), "https://example.com/reports/annual.xhtml", target)
	require.True(t, res.Success)
	assert.Equal(t, TypeIXBRL, res.Detection.Type)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, 1, res.Extraction.FilesExtracted)
	assert.FileExists(t, filepath.Join(target, "annual.xhtml"))
}

func TestProcessorCompaniesHouseDocument(t *testing.T) {
	client := newFakeClient()
	url := "https://document-api.company-information.service.gov.uk/document/abc/content"
	client.serve(url, "", []byte("<html/>"))

	target := filepath.Join(t.TempDir(), "out")
	p := NewProcessor(client, ProcessorConfig{TempDir: t.TempDir()})
	res := p.Process(context.Background(), url, target)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Extraction.FilesExtracted)
	// the fake negotiates the first ladder entry, xhtml
	assert.FileExists(t, filepath.Join(target, "accounts.xhtml"))
}

func TestProcessorDetectionFailure(t *testing.T) {
	client := newFakeClient()

	p := NewProcessor(client, ProcessorConfig{TempDir: t.TempDir()})
	res := p.Process(context.Background(), "https://example.com/nothing.bin", filepath.Join(t.TempDir(), "out"))
	require.False(t, res.Success)
	assert.Equal(t, StageDetection, res.ErrorStage)
	require.NotNil(t, res.Detection)
	assert.False(t, res.Detection.Exists)
}

func TestProcessorExtractionFailureStage(t *testing.T) {
	client := newFakeClient()
	client.serve("https://example.com/broken.zip", "application/zip", []byte("not a zip"))

	p := NewProcessor(client, ProcessorConfig{TempDir: t.TempDir()})
	res := p.Process(context.Background(), "https://example.com/broken.zip", filepath.Join(t.TempDir(), "out"))
	require.False(t, res.Success)
	assert.Equal(t, StageExtraction, res.ErrorStage)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, ReasonBadArchive, res.Extraction.Reason)
}
