package memory

import (
	"bankledger/internal/repository"
)

var _ repository.AccountStore = (*Store)(nil)
