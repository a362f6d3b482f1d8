// Package auth proves that a caller may act for a maker account or holds
// the admin capability. Proofs are single-use values: each mutating entry
// point takes one by value and spends it, so a check cannot be skipped or
// replayed.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotMember    = errors.New("caller is not a member of the account")
	ErrNotAdmin     = errors.New("caller does not hold the admin capability")
	ErrProofSpent   = errors.New("proof already spent or never issued")
	ErrUnknownAcct  = errors.New("unknown account")
	ErrProofAccount = errors.New("proof issued for a different account")
)

// MemberProof certifies that its holder authenticated as a member of one
// maker account. Unexported fields keep it unforgeable outside the package.
type MemberProof struct {
	id      uint64
	account common.Address
	caller  common.Address
}

func (p MemberProof) Account() common.Address { return p.account }
func (p MemberProof) Caller() common.Address  { return p.caller }

// AdminProof certifies its holder passed the admin check.
type AdminProof struct {
	id    uint64
	admin common.Address
}

func (p AdminProof) Admin() common.Address { return p.admin }

// Registry maps maker accounts to their authorized signers and tracks the
// set of admin addresses. It also records which issued proofs are still
// unspent.
type Registry struct {
	mu      sync.Mutex
	members map[common.Address][]common.Address
	admins  map[common.Address]bool

	nextID uint64
	live   map[uint64]bool
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[common.Address][]common.Address),
		admins:  make(map[common.Address]bool),
		live:    make(map[uint64]bool),
	}
}

// RegisterAccount declares an account and its authorized signers. The
// account address itself is always a member.
func (r *Registry) RegisterAccount(account common.Address, signers ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := []common.Address{account}
	for _, s := range signers {
		if s != account {
			list = append(list, s)
		}
	}
	r.members[account] = list
}

// RegisterAdmin grants the admin capability to addr.
func (r *Registry) RegisterAdmin(addr common.Address) {
	r.mu.Lock()
	r.admins[addr] = true
	r.mu.Unlock()
}

// Members returns the signer set of an account.
func (r *Registry) Members(account common.Address) ([]common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.members[account]
	if !ok {
		return nil, fmt.Errorf("%s: %w", account.Hex(), ErrUnknownAcct)
	}
	out := make([]common.Address, len(list))
	copy(out, list)
	return out, nil
}

// AssertIsMember checks membership without issuing a proof.
func (r *Registry) AssertIsMember(account, caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assertIsMemberLocked(account, caller)
}

func (r *Registry) assertIsMemberLocked(account, caller common.Address) error {
	list, ok := r.members[account]
	if !ok {
		return fmt.Errorf("%s: %w", account.Hex(), ErrUnknownAcct)
	}
	for _, m := range list {
		if m == caller {
			return nil
		}
	}
	return fmt.Errorf("%s on account %s: %w", caller.Hex(), account.Hex(), ErrNotMember)
}

// Authenticate issues a single-use membership proof for caller on account.
func (r *Registry) Authenticate(account, caller common.Address) (MemberProof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertIsMemberLocked(account, caller); err != nil {
		return MemberProof{}, err
	}
	r.nextID++
	r.live[r.nextID] = true
	return MemberProof{id: r.nextID, account: account, caller: caller}, nil
}

// Spend consumes a membership proof, verifying it was issued for account.
// A proof can be spent at most once.
func (r *Registry) Spend(p MemberProof, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live[p.id] {
		return ErrProofSpent
	}
	if p.account != account {
		return fmt.Errorf("proof for %s used on %s: %w", p.account.Hex(), account.Hex(), ErrProofAccount)
	}
	delete(r.live, p.id)
	return nil
}

// AuthenticateAdmin issues a single-use admin proof.
func (r *Registry) AuthenticateAdmin(caller common.Address) (AdminProof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.admins[caller] {
		return AdminProof{}, fmt.Errorf("%s: %w", caller.Hex(), ErrNotAdmin)
	}
	r.nextID++
	r.live[r.nextID] = true
	return AdminProof{id: r.nextID, admin: caller}, nil
}

// SpendAdmin consumes an admin proof.
func (r *Registry) SpendAdmin(p AdminProof) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live[p.id] {
		return ErrProofSpent
	}
	delete(r.live, p.id)
	return nil
}
