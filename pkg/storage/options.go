package storage

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// DurabilityOptions seleciona o modo do WAL na abertura.
type DurabilityOptions struct {
	Mode             wal.Mode      `yaml:"-"`
	ModeName         string        `yaml:"mode"` // "in-memory" | "buffered" | "strict"
	FlushInterval    time.Duration `yaml:"flush_interval"`
	MaxPendingWrites int           `yaml:"max_pending_writes"`
}

// SnapshotOptions controla os gatilhos e a retenção de snapshots
// persistentes.
type SnapshotOptions struct {
	WALSizeThreshold   int64         `yaml:"wal_size_threshold"`
	TimeInterval       time.Duration `yaml:"time_interval"`
	RetentionCount     int           `yaml:"retention_count"`
	SnapshotOnShutdown bool          `yaml:"snapshot_on_shutdown"`
}

// RecoveryOptions controla a tolerância da recuperação.
type RecoveryOptions struct {
	MaxCorruptEntries  int  `yaml:"max_corrupt_entries"`
	VerifyAllChecksums bool `yaml:"verify_all_checksums"`
	RebuildIndexes     bool `yaml:"rebuild_indexes"`
}

// Options é a superfície de configuração que o chamador fornece no open.
type Options struct {
	Durability DurabilityOptions `yaml:"durability"`
	Snapshot   SnapshotOptions   `yaml:"snapshot"`
	Recovery   RecoveryOptions   `yaml:"recovery"`

	// Limite suave do segmento WAL
	SegmentSoftLimit int64 `yaml:"segment_soft_limit"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultOptions retorna os padrões: Buffered(100ms, 1000),
// snapshots (100 MiB, 30 min, 2, on-shutdown), recovery (10, true, true).
func DefaultOptions() Options {
	return Options{
		Durability: DurabilityOptions{
			Mode:             wal.ModeBuffered,
			FlushInterval:    100 * time.Millisecond,
			MaxPendingWrites: 1000,
		},
		Snapshot: SnapshotOptions{
			WALSizeThreshold:   100 * 1024 * 1024,
			TimeInterval:       30 * time.Minute,
			RetentionCount:     2,
			SnapshotOnShutdown: true,
		},
		Recovery: RecoveryOptions{
			MaxCorruptEntries:  10,
			VerifyAllChecksums: true,
			RebuildIndexes:     true,
		},
		SegmentSoftLimit: 64 * 1024 * 1024,
		Logger:           zerolog.Nop(),
	}
}

// LoadOptions lê um arquivo YAML espelhando a struct Options.
// Campos desconhecidos são rejeitados; campos omitidos ficam com o
// padrão.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return opts, fmt.Errorf("config inválida em %s: %w", path, err)
	}
	if err := opts.resolveMode(); err != nil {
		return opts, err
	}
	return opts, nil
}

func (o *Options) resolveMode() error {
	switch o.Durability.ModeName {
	case "":
		// mantém o modo programático
	case "in-memory":
		o.Durability.Mode = wal.ModeInMemory
	case "buffered":
		o.Durability.Mode = wal.ModeBuffered
	case "strict":
		o.Durability.Mode = wal.ModeStrict
	default:
		return fmt.Errorf("modo de durabilidade desconhecido: %q", o.Durability.ModeName)
	}
	return nil
}

