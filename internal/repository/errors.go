package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// isDuplicateKey detects unique index violations across the mysql and sqlite drivers
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapErr maps driver errors onto the common error kinds
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &common.Error{Kind: common.ErrNotFound, Message: op + ": not found"}
	case isDuplicateKey(err):
		return &common.Error{Kind: common.ErrConflict, Err: err}
	default:
		return common.Transient(fmt.Errorf("%s: %w", op, err))
	}
}
