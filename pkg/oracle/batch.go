package oracle

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

// checksum computes the domain-separated batch checksum, spec §4.I:
// "checksum = H(data) (domain ORACLE)".
func checksum(data []byte) [32]byte {
	return pqcrypto.HashDomain("ORACLE", data)
}

// verifyBatch checks a batch's checksum against its declared data.
func verifyBatch(b DataBatch) error {
	if got := checksum(b.Data); got != b.Checksum {
		return apperrors.New(apperrors.KindChecksumMismatch, "batch checksum mismatch").
			WithDetails(map[string]any{"batch_id": b.BatchID})
	}
	return nil
}

// decompress applies b.Compression to b.Data. Gzip is fully supported;
// Lz4/Zstd are declared in the closed set (spec §4.I) but have no
// working codec in this core — no lz4/zstd library appears anywhere in
// the retrieved corpus, so implementing one here would be an ungrounded
// dependency. Callers see KindUnsupportedCompression, not a silent
// pass-through.
func decompress(compression Compression, data []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip reader: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading gzip stream: %w", err)
		}
		return out, nil
	default:
		return nil, apperrors.New(apperrors.KindUnsupportedCompression, compression.String())
	}
}

// assembleKey identifies a buffer of batches awaiting reassembly,
// keyed by (from_node, data_type) per spec §4.I.
func assembleKey(fromNode string, dt DataType) string {
	return fmt.Sprintf("%s:%s", fromNode, dt)
}

// reassemble sorts batches by sequence and concatenates their
// decompressed data, spec §4.I: "batches sorted by seq, concatenated,
// decompressed".
func reassemble(batches []DataBatch) ([]byte, error) {
	sorted := make([]DataBatch, len(batches))
	copy(sorted, batches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	var out bytes.Buffer
	for _, b := range sorted {
		data, err := decompress(b.Compression, b.Data)
		if err != nil {
			return nil, fmt.Errorf("decompressing batch %s: %w", b.BatchID, err)
		}
		out.Write(data)
	}
	return out.Bytes(), nil
}
