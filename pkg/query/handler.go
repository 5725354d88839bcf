package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

var (
	ErrMixedParameters  = errors.New("named and positional parameters mixed")
	ErrMissingParameter = errors.New("missing query parameter")
	ErrUnusedParameter  = errors.New("unused query parameter")
	ErrEmptyQuery       = errors.New("empty query")
	ErrNoIdentityColumn = errors.New("query returned no identity column")
)

// Query is a parameterized query.  Parameters are either named (:name, values in Named) or
// positional ($1, values in Args), never both.
type Query struct {
	Text  string
	Named map[string]interface{}
	Args  []interface{}
	// IDs makes Execute decode the first column of every row as an object id.
	IDs bool
}

type Result struct {
	Rows *store.Rows
	IDs  []ident.ObjectID
}

type Handler struct {
	parser ident.Parser
	logger logging.Logger
}

func NewHandler(parser ident.Parser, logger logging.Logger) *Handler {
	return &Handler{parser: parser, logger: logger}
}

// Execute runs q on tx.
func (h *Handler) Execute(ctx context.Context, tx store.QueryTx, q Query) (*Result, error) {
	text, args, err := Rewrite(q)
	if err != nil {
		return nil, err
	}
	h.logger.WithContext(ctx).WithFields(logging.Fields{
		"query": text,
		"args":  len(args),
	}).Trace("Execute query")
	rows, err := tx.QueryRows(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	res := &Result{Rows: rows}
	if !q.IDs {
		return res, nil
	}
	if len(rows.Columns) == 0 {
		return nil, ErrNoIdentityColumn
	}
	res.IDs = make([]ident.ObjectID, 0, len(rows.Values))
	for _, row := range rows.Values {
		id, err := h.parser.CreateID(fmt.Sprint(row[0]))
		if err != nil {
			return nil, err
		}
		res.IDs = append(res.IDs, id)
	}
	return res, nil
}

// Rewrite turns named parameters into positional ones and returns the query text with its
// arguments in order.  Quoted text and :: casts are left alone.
func Rewrite(q Query) (string, []interface{}, error) {
	if strings.TrimSpace(q.Text) == "" {
		return "", nil, ErrEmptyQuery
	}
	var (
		sb         strings.Builder
		args       []interface{}
		positions  = make(map[string]int)
		positional bool
		named      bool
		quote      rune
	)
	text := []rune(q.Text)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			sb.WriteRune(c)
		case c == '\'' || c == '"':
			quote = c
			sb.WriteRune(c)
		case c == ':' && i+1 < len(text) && text[i+1] == ':':
			sb.WriteString("::")
			i++
		case c == ':' && i+1 < len(text) && isNameStart(text[i+1]):
			j := i + 1
			for j < len(text) && isNamePart(text[j]) {
				j++
			}
			name := string(text[i+1 : j])
			named = true
			pos, ok := positions[name]
			if !ok {
				v, ok := q.Named[name]
				if !ok {
					return "", nil, fmt.Errorf("%w: %s", ErrMissingParameter, name)
				}
				args = append(args, v)
				pos = len(args)
				positions[name] = pos
			}
			sb.WriteString("$" + strconv.Itoa(pos))
			i = j - 1
		case c == '$' && i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9':
			j := i + 1
			for j < len(text) && text[j] >= '0' && text[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(string(text[i+1 : j]))
			if n < 1 || n > len(q.Args) {
				return "", nil, fmt.Errorf("%w: $%d", ErrMissingParameter, n)
			}
			positional = true
			sb.WriteString(string(text[i:j]))
			i = j - 1
		default:
			sb.WriteRune(c)
		}
	}
	if named && positional {
		return "", nil, ErrMixedParameters
	}
	if positional || len(q.Args) > 0 {
		if named {
			return "", nil, ErrMixedParameters
		}
		return sb.String(), q.Args, nil
	}
	for name := range q.Named {
		if _, ok := positions[name]; !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnusedParameter, name)
		}
	}
	return sb.String(), args, nil
}

func isNameStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c rune) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
