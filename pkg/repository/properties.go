package repository

import (
	"fmt"
	"strconv"

	"github.com/treeverse/termstore/pkg/branch"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/store"
)

// persisted property names
const (
	PropRepositoryCreated      = "repositoryCreated"
	PropRepositoryStopped      = "repositoryStopped"
	PropNextLocalObjectID      = "nextLocalObjectID"
	PropLastObjectID           = "lastObjectID"
	PropLastBranchID           = "lastBranchID"
	PropLastLocalBranchID      = "lastLocalBranchID"
	PropLastCommitTime         = "lastCommitTime"
	PropLastNonLocalCommitTime = "lastNonLocalCommitTime"
	PropGracefullyShutDown     = "gracefullyShutDown"
)

// Counters is every monotonic counter of a store.
type Counters struct {
	Objects                ident.Counters
	Branches               branch.Counters
	LastCommitTime         int64
	LastNonLocalCommitTime int64
}

func (c Counters) properties(withObjects bool) map[string]string {
	props := map[string]string{
		PropLastBranchID:           strconv.FormatInt(int64(c.Branches.LastBranchID), 10),
		PropLastLocalBranchID:      strconv.FormatInt(int64(c.Branches.LastLocalBranchID), 10),
		PropLastCommitTime:         strconv.FormatInt(c.LastCommitTime, 10),
		PropLastNonLocalCommitTime: strconv.FormatInt(c.LastNonLocalCommitTime, 10),
	}
	if withObjects {
		props[PropLastObjectID] = strconv.FormatInt(c.Objects.LastObjectID, 10)
		props[PropNextLocalObjectID] = strconv.FormatInt(c.Objects.NextLocalObjectID, 10)
	}
	return props
}

func counterNames(withObjects bool) []string {
	names := []string{PropLastBranchID, PropLastLocalBranchID, PropLastCommitTime, PropLastNonLocalCommitTime}
	if withObjects {
		names = append(names, PropLastObjectID, PropNextLocalObjectID)
	}
	return names
}

func parseInt(props map[string]string, name string, bits int) (int64, error) {
	v, ok := props[name]
	if !ok {
		return 0, fmt.Errorf("%w: property %s missing", store.ErrConsistency, name)
	}
	n, err := strconv.ParseInt(v, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: property %s=%q: %s", store.ErrConsistency, name, v, err)
	}
	return n, nil
}

func countersFromProperties(props map[string]string, withObjects bool) (Counters, error) {
	var (
		c   Counters
		err error
		n   int64
	)
	if n, err = parseInt(props, PropLastBranchID, 32); err != nil {
		return c, err
	}
	c.Branches.LastBranchID = store.BranchID(n)
	if n, err = parseInt(props, PropLastLocalBranchID, 32); err != nil {
		return c, err
	}
	c.Branches.LastLocalBranchID = store.BranchID(n)
	if c.LastCommitTime, err = parseInt(props, PropLastCommitTime, 64); err != nil {
		return c, err
	}
	if c.LastNonLocalCommitTime, err = parseInt(props, PropLastNonLocalCommitTime, 64); err != nil {
		return c, err
	}
	if !withObjects {
		return c, nil
	}
	if c.Objects.LastObjectID, err = parseInt(props, PropLastObjectID, 64); err != nil {
		return c, err
	}
	if c.Objects.NextLocalObjectID, err = parseInt(props, PropNextLocalObjectID, 64); err != nil {
		return c, err
	}
	return c, nil
}
