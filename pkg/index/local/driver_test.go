package local_test

import (
	"bytes"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/index/local"
	"github.com/treeverse/termstore/pkg/logging"
)

var _ badger.Logger = (*local.BadgerLogger)(nil)

func TestBadgerLogger_Warningf(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	bl := &local.BadgerLogger{Logger: logging.FromLogrus(l)}

	bl.Warningf("value log %d rewritten", 3)
	require.Contains(t, buf.String(), "level=warning")
	require.Contains(t, buf.String(), "value log 3 rewritten")
}
