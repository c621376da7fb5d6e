package storage

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

// RetryPolicy limita as novas tentativas de uma transação conflitada.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy: até 5 tentativas extras, 1ms → 50ms exponencial.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond}
}

// TransactionWithRetry reexecuta f em erros retryable (conflitos de
// versão/escrita) com backoff exponencial limitado por MaxDelay.
// f precisa ser idempotente: pura ou sem efeitos externos — o engine
// não tem como verificar isso.
func (db *Database) TransactionWithRetry(run types.RunID, policy RetryPolicy, f func(*TransactionContext) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay
	bo.MaxElapsedTime = 0 // limitamos por contagem, não por relógio
	bo.Reset()

	var err error
	for attempt := 0; ; attempt++ {
		err = db.Transaction(run, f)
		if err == nil || !errors.IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxRetries {
			return err
		}
		time.Sleep(bo.NextBackOff())
	}
}

// TransactionWithTimeout aborta com TransactionTimeout se f mais a
// validação excederem duration. O cancelamento é cooperativo: só tem
// efeito entre operações ou no commit; um fsync em voo não é
// interrompido.
func (db *Database) TransactionWithTimeout(run types.RunID, duration time.Duration, f func(*TransactionContext) error) error {
	_, err := db.transaction(run, time.Now().Add(duration), f)
	return err
}
