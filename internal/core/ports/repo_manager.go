package ports

import "github.com/arkade-os/tokend/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Ledgers() domain.LedgerRepository
	Close()
}
