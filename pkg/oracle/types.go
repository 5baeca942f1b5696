// Package oracle implements the Oracle Data Relay (spec §4.I):
// session-based, chunked, checksum-verified data synchronization
// between nodes, with idle-timeout sweeping and an assembly cache.
package oracle

import "time"

// DataType is the closed set of synchronizable data categories,
// narrowed from the original source's richer enum (which also carries
// a freeform Custom(String) variant — dropped here since spec.md names
// only the fixed categories actually exercised by this node's data
// flows).
type DataType int

const (
	DataTypeBlockchainState DataType = iota
	DataTypeTransactionPool
	DataTypeNodeRegistry
	DataTypeConfiguration
	DataTypeAuditLogs
	DataTypeMetrics
)

func (d DataType) String() string {
	switch d {
	case DataTypeBlockchainState:
		return "BlockchainState"
	case DataTypeTransactionPool:
		return "TransactionPool"
	case DataTypeNodeRegistry:
		return "NodeRegistry"
	case DataTypeConfiguration:
		return "Configuration"
	case DataTypeAuditLogs:
		return "AuditLogs"
	case DataTypeMetrics:
		return "Metrics"
	default:
		return "Unknown"
	}
}

// Compression is the closed set of transfer compression schemes, spec
// §4.I. Only None and Gzip have working codecs in this core — see
// decompress in batch.go for the documented scope decision on Lz4/Zstd.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionLz4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionGzip:
		return "Gzip"
	case CompressionLz4:
		return "Lz4"
	case CompressionZstd:
		return "Zstd"
	default:
		return "Unknown"
	}
}

// SyncStatus is the closed set of session states.
type SyncStatus int

const (
	SyncPreparing SyncStatus = iota
	SyncTransferring
	SyncCompleted
	SyncFailed
	SyncCancelled
)

func (s SyncStatus) String() string {
	switch s {
	case SyncPreparing:
		return "Preparing"
	case SyncTransferring:
		return "Transferring"
	case SyncCompleted:
		return "Completed"
	case SyncFailed:
		return "Failed"
	case SyncCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// SyncRequest describes a requested data sync, spec §4.I
// `request_sync(req, target)`.
type SyncRequest struct {
	RequestingNode string
	DataType       DataType
	Compression    Compression
	TotalBatches   int
}

// DataBatch is one chunk of a chunked transfer, spec §4.I `DataBatch`.
type DataBatch struct {
	BatchID        string
	FromNode       string
	DataType       DataType
	Sequence       int
	TotalBatches   int
	Compression    Compression
	Data           []byte
	Checksum       [32]byte
	ReceivedAt     time.Time
}

// SyncSession tracks one in-flight request_sync, spec §4.I `SyncSession`.
type SyncSession struct {
	SessionID    string
	Request      SyncRequest
	TargetNode   string
	BatchesSent  int
	TotalBatches int
	BytesMoved   uint64
	StartedAt    time.Time
	LastActivity time.Time
	Status       SyncStatus
}

func (s *SyncSession) expired(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastActivity) > idleTimeout
}
