package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInjected            = errors.New("injected failure")
)

// Tx is an applied memory-ledger transaction.
type Tx struct {
	Ref    string
	Op     Op
	From   string
	To     string
	Amount decimal.Decimal
}

type fault struct {
	op        Op
	ambiguous bool
}

// Memory is an in-process ledger for development and tests. Failures can be
// queued with FailNext.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txs      []Tx
	faults   []fault
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

// Fund sets addr's balance.
func (m *Memory) Fund(addr string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[strings.ToLower(addr)] = amount
}

// FailNext makes the next op fail. An ambiguous fault applies the operation
// and then reports failure, as when a response is lost in transit.
func (m *Memory) FailNext(op Op, ambiguous bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault{op: op, ambiguous: ambiguous})
}

// Transactions returns applied transactions in order.
func (m *Memory) Transactions() []Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Tx(nil), m.txs...)
}

// takeFault pops the first queued fault for op. Caller holds m.mu.
func (m *Memory) takeFault(op Op) (fault, bool) {
	for i, f := range m.faults {
		if f.op == op {
			m.faults = append(m.faults[:i], m.faults[i+1:]...)
			return f, true
		}
	}
	return fault{}, false
}

func (m *Memory) apply(op Op, from, to string, amount decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, faulty := m.takeFault(op)
	if faulty && !f.ambiguous {
		return "", &Error{Op: op, Err: ErrInjected}
	}
	if from != "" {
		if m.balances[from].LessThan(amount) {
			return "", &Error{Op: op, Err: ErrInsufficientBalance}
		}
		m.balances[from] = m.balances[from].Sub(amount)
	}
	m.balances[to] = m.balances[to].Add(amount)
	ref := "mem-" + uuid.NewString()
	m.txs = append(m.txs, Tx{Ref: ref, Op: op, From: from, To: to, Amount: amount})
	if faulty {
		return "", &Error{Op: op, Ambiguous: true, TxRef: ref, Err: ErrInjected}
	}
	return ref, nil
}

func (m *Memory) Credit(_ context.Context, to string, amount decimal.Decimal) (string, error) {
	return m.apply(OpCredit, "", strings.ToLower(to), amount)
}

func (m *Memory) Debit(_ context.Context, from, to string, amount decimal.Decimal) (string, error) {
	return m.apply(OpDebit, strings.ToLower(from), strings.ToLower(to), amount)
}

func (m *Memory) BalanceOf(_ context.Context, addr string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, faulty := m.takeFault(OpBalance); faulty {
		return decimal.Zero, &Error{Op: OpBalance, Err: ErrInjected}
	}
	return m.balances[strings.ToLower(addr)], nil
}
