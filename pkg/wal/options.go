package wal

import (
	"time"

	"github.com/rs/zerolog"
)

// Mode define a estratégia de durabilidade selecionada na abertura.
type Mode int

const (
	// ModeInMemory pula o WAL por completo; nenhum arquivo é criado.
	// Perda na queda: todo o estado.
	ModeInMemory Mode = iota

	// ModeBuffered acumula no buffer e um flusher de fundo faz
	// flush+fsync por intervalo OU por contagem de escritas pendentes.
	// Perda na queda: até flush_interval de commits.
	ModeBuffered

	// ModeStrict faz append e fsync antes de retornar.
	// Perda na queda: nenhuma.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeInMemory:
		return "in-memory"
	case ModeBuffered:
		return "buffered"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Options configura o WAL Writer.
type Options struct {
	// Diretório onde os segmentos vivem (o próprio WAL/)
	Dir string

	// Limite suave de tamanho do segmento; ao exceder, o segmento
	// atual é fechado e um novo é aberto. Segmentos fechados são
	// imutáveis.
	SegmentSoftLimit int64

	// Tamanho do buffer bufio entre o engine e o SO
	BufferSize int

	// Política de durabilidade
	Mode Mode

	// Gatilhos do flusher de fundo (apenas ModeBuffered)
	FlushInterval    time.Duration
	MaxPendingWrites int

	// Offset lógico do início do segmento mais antigo existente.
	// Depois de uma compactação os segmentos iniciais foram apagados;
	// o MANIFEST preserva esta base.
	BaseOffset uint64

	// Número do segmento mais antigo existente (1 se nunca compactado)
	FirstSegment uint64

	Logger zerolog.Logger
}

// DefaultOptions retorna uma configuração segura.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:              dir,
		SegmentSoftLimit: 64 * 1024 * 1024, // 64 MiB
		BufferSize:       64 * 1024,        // 64KB bufio buffer
		Mode:             ModeBuffered,
		FlushInterval:    100 * time.Millisecond,
		MaxPendingWrites: 1000,
		FirstSegment:     1,
		Logger:           zerolog.Nop(),
	}
}
