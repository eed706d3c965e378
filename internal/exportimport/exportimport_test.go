package exportimport_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/exportimport"
	"github.com/agentvault/vault/internal/walletcrypto"
)

type sliceSource struct {
	records []exportimport.Record
	i       int
}

func (s *sliceSource) Next(context.Context) (*exportimport.Record, error) {
	if s.i >= len(s.records) {
		return nil, nil
	}
	rec := s.records[s.i]
	s.i++
	return &rec, nil
}

type sliceSink struct {
	records []exportimport.Record
}

func (s *sliceSink) Put(_ context.Context, rec exportimport.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func sampleRecords(n int) []exportimport.Record {
	out := make([]exportimport.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, exportimport.Record{
			Type:  "Did",
			ID:    "did:example:" + string(rune('a'+i%26)),
			Value: []byte{byte(i), byte(i >> 8)},
			Tags:  map[string]string{"~seq": string(rune('0' + i%10))},
		})
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	records := sampleRecords(1200) // forces multiple chunks at maxRecordsPerChunk=500

	var buf bytes.Buffer
	src := &sliceSource{records: records}
	err := exportimport.Export(ctx, &buf, src, []byte("export-passphrase"), walletcrypto.KDFInteractive, walletcrypto.InteractiveParams)
	require.NoError(t, err)

	sink := &sliceSink{}
	err = exportimport.Import(ctx, &buf, sink, []byte("export-passphrase"), walletcrypto.InteractiveParams)
	require.NoError(t, err)

	assert.Equal(t, records, sink.records)
}

func TestImportWrongPassphraseFails(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	src := &sliceSource{records: sampleRecords(3)}
	require.NoError(t, exportimport.Export(ctx, &buf, src, []byte("right"), walletcrypto.KDFInteractive, walletcrypto.InteractiveParams))

	sink := &sliceSink{}
	err := exportimport.Import(ctx, &buf, sink, []byte("wrong"), walletcrypto.InteractiveParams)
	require.Error(t, err)
	assert.Empty(t, sink.records)
}

func TestImportTamperedChunkFails(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	src := &sliceSource{records: sampleRecords(3)}
	require.NoError(t, exportimport.Export(ctx, &buf, src, []byte("k"), walletcrypto.KDFInteractive, walletcrypto.InteractiveParams))

	data := buf.Bytes()
	// Flip a byte inside the first chunk's ciphertext, well past the header:
	// step back over the trailer HMAC (32), the zero-length end marker (4)
	// and the chunk's AEAD tag (16).
	data[len(data)-32-4-16-10] ^= 0xFF

	sink := &sliceSink{}
	err := exportimport.Import(ctx, bytes.NewReader(data), sink, []byte("k"), walletcrypto.InteractiveParams)
	require.Error(t, err)
}

func TestExportRejectsRawKDF(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	src := &sliceSource{}
	err := exportimport.Export(ctx, &buf, src, []byte("k"), walletcrypto.KDFRaw, walletcrypto.KDFParams{})
	require.Error(t, err)
}
