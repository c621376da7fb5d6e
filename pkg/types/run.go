package types

import (
	"time"

	"github.com/google/uuid"
)

// RunID é o namespace de isolamento de nível superior.
// Todo dado armazenado pertence a exatamente um run.
type RunID string

// MetaRunID é o namespace reservado onde o índice de runs vive.
// Ele gerencia os próprios runs e nunca é listado como um run normal.
const MetaRunID RunID = "00000000-0000-0000-0000-000000000000"

// NewRunID gera um identificador de run (UUID v4).
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// ParseRunID valida o formato do identificador.
func ParseRunID(s string) (RunID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return RunID(id.String()), nil
}

func (r RunID) String() string { return string(r) }

// IsMeta indica se o run é o namespace reservado do índice de runs.
func (r RunID) IsMeta() bool { return r == MetaRunID }

// Timestamp é microssegundos desde a época Unix, atribuído pelo
// committer no momento do commit.
type Timestamp int64

// Now captura o relógio de parede com resolução de microssegundos.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Time converte de volta para time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}
