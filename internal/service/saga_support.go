package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/dojo-api/internal/saga"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

const dateLayout = "2006-01-02"

// sagaFailure turns a saga result into a tagged error. A run that left an
// effect in place becomes CRITICAL_PARTIAL_FAILURE carrying remediation;
// otherwise the failing step's own tag is kept. The saga error stays in the
// chain so compensation failures remain reachable through errors.Is/As.
func sagaFailure(err error, subject, remediation string) error {
	sagaErr, ok := saga.AsError(err)
	if !ok {
		return err
	}
	if sagaErr.Partial() {
		msg := fmt.Sprintf("%s stopped at step %s and could not be fully undone: %s", subject, sagaErr.Step, remediation)
		if sagaErr.Compensation != nil {
			msg += fmt.Sprintf(" (compensation error: %v)", sagaErr.Compensation)
		}
		return appErrors.CloneWrap(appErrors.ErrCriticalPartialFailure, err, msg)
	}
	base := appErrors.FromError(sagaErr.Err)
	return appErrors.CloneWrap(base, err, fmt.Sprintf("%s: %s", subject, base.Message))
}

func validationError(err error, message string) error {
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
	}
	if len(fields) > 0 {
		message = fmt.Sprintf("%s: %s", message, strings.Join(fields, ", "))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func today(now func() time.Time) string {
	return now().UTC().Format(dateLayout)
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	waiters int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.waiters++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
