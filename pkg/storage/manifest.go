package storage

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// MANIFEST é o ponto de entrada da abertura: um registro minúsculo da
// cadeia de snapshots ativa e da base restante do WAL. Atualizado
// atomicamente por write-and-rename.

const manifestName = "MANIFEST"

type manifestSnapshot struct {
	Seq       uint64 `json:"seq"`
	File      string `json:"file"`
	WALOffset uint64 `json:"wal_offset"`
	Timestamp int64  `json:"timestamp_us"`
}

type manifest struct {
	// Snapshots existentes, do mais antigo para o mais novo
	Snapshots []manifestSnapshot `json:"snapshots"`

	// Sequência do snapshot mais novo (0 = nenhum)
	Newest uint64 `json:"newest"`

	// Segmento WAL mais antigo sobrevivente e seu offset lógico base.
	// Preservado através de compactações.
	WALFirstSegment uint64 `json:"wal_first_segment"`
	WALBaseOffset   uint64 `json:"wal_base_offset"`

	// Próxima sequência de snapshot a usar
	NextSnapshotSeq uint64 `json:"next_snapshot_seq"`
}

func defaultManifest() manifest {
	return manifest{WALFirstSegment: 1, NextSnapshotSeq: 1}
}

func manifestPath(root string) string {
	return filepath.Join(root, manifestName)
}

// loadManifest lê o MANIFEST; ausência não é erro (banco novo).
func loadManifest(root string) (manifest, error) {
	data, err := os.ReadFile(manifestPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return defaultManifest(), nil
		}
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, err
	}
	if m.WALFirstSegment == 0 {
		m.WALFirstSegment = 1
	}
	if m.NextSnapshotSeq == 0 {
		m.NextSnapshotSeq = 1
	}
	return m, nil
}

// storeManifest publica o MANIFEST atomicamente (temp + fsync + rename).
func storeManifest(root string, m manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := manifestPath(root) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, manifestPath(root))
}

// snapshotsNewestFirst retorna os snapshots em ordem de preferência
// (mais novo primeiro) para a recuperação tentar em cascata.
func (m manifest) snapshotsNewestFirst() []manifestSnapshot {
	out := make([]manifestSnapshot, len(m.Snapshots))
	copy(out, m.Snapshots)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
