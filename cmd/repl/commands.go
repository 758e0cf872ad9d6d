package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/wire"
)

var ErrUsage = errors.New("usage")

// Session is the state behind the prompt: a registry and the document
// commands apply to.
type Session struct {
	reg *host.Registry
	doc *host.Replica
}

func NewSession(ctx context.Context, reg *host.Registry, name string) (*Session, error) {
	doc, err := reg.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Session{reg: reg, doc: doc}, nil
}

// split cuts the command word off line.
func split(line string) (cmd, rest string) {
	line = strings.TrimSpace(line)
	if ws := strings.IndexAny(line, " \t"); ws > 0 {
		return line[:ws], strings.TrimSpace(line[ws:])
	}
	return line, ""
}

// Exec runs one command line and returns what to print. io.EOF asks the
// caller to quit.
func (s *Session) Exec(ctx context.Context, line string) (string, error) {
	cmd, rest := split(line)
	switch cmd {
	case "":
		return "", nil
	case "help":
		return helpText, nil
	case "open":
		return s.commandOpen(ctx, rest)
	case "docs":
		return strings.Join(s.reg.Names(), "\n"), nil
	case "insert":
		return s.commandInsert(rest)
	case "type":
		return s.commandType(rest)
	case "del":
		return s.commandDel(rest)
	case "cut":
		return s.commandCut(rest)
	case "show", "cat":
		return s.doc.Text(), nil
	case "ids":
		return joinIDs(s.doc.Visible()), nil
	case "stats":
		st := s.doc.Stats()
		return fmt.Sprintf("live %d, tombstoned %d, pending %d", st.Live, st.Tombstoned, st.Pending), nil
	case "ops":
		data, err := s.doc.Envelope().Marshal()
		return string(data), err
	case "export":
		return s.commandExport(rest)
	case "merge":
		return s.commandMerge(rest)
	case "dump":
		return s.doc.Dump(), nil
	case "save":
		return "", s.reg.SaveAll(ctx)
	case "exit", "quit":
		return "", io.EOF
	default:
		return "", fmt.Errorf("command unknown: %s", cmd)
	}
}

const helpText = `open <doc>              switch to a document
docs                    list open documents
insert <id|root> <text> type text after an element
type <pos> <text>       type text at a visible position
del <id>                delete an element
cut <pos> <len>         delete a visible range
show | ids | stats      inspect the document
ops | dump              print the element log
export <file>           write the element log to a file
merge <file>            merge an element log from a file
save                    write changes to disk
exit`

func joinIDs(ids []ol.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, " ")
}

func (s *Session) commandOpen(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: open <doc>", ErrUsage)
	}
	doc, err := s.reg.Open(ctx, name)
	if err != nil {
		return "", err
	}
	s.doc = doc
	return doc.Text(), nil
}

func (s *Session) commandInsert(args string) (string, error) {
	anchor, text := split(args)
	if anchor == "" || text == "" {
		return "", fmt.Errorf("%w: insert <id|root> <text>", ErrUsage)
	}
	after, err := ol.ParseID(anchor)
	if err != nil {
		return "", err
	}
	ids, err := s.doc.Insert(after, text)
	return joinIDs(ids), err
}

func (s *Session) commandType(args string) (string, error) {
	pos, text := split(args)
	n, err := strconv.Atoi(pos)
	if err != nil || text == "" {
		return "", fmt.Errorf("%w: type <pos> <text>", ErrUsage)
	}
	ids, err := s.doc.InsertAfterPos(n, text)
	return joinIDs(ids), err
}

func (s *Session) commandDel(args string) (string, error) {
	if args == "" {
		return "", fmt.Errorf("%w: del <id>", ErrUsage)
	}
	id, err := ol.ParseID(args)
	if err != nil {
		return "", err
	}
	if id.IsRoot() {
		return "", fmt.Errorf("%w: root cannot be deleted", ol.ErrNotFound)
	}
	return "", s.doc.Delete(id)
}

func (s *Session) commandCut(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return "", fmt.Errorf("%w: cut <pos> <len>", ErrUsage)
	}
	pos, err1 := strconv.Atoi(fields[0])
	n, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("%w: cut <pos> <len>", ErrUsage)
	}
	return "", s.doc.DeleteAt(pos, n)
}

func (s *Session) commandExport(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: export <file>", ErrUsage)
	}
	env := s.doc.Envelope()
	data, err := env.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d records, batch %s", len(env.Records), env.Batch), nil
}

func (s *Session) commandMerge(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: merge <file>", ErrUsage)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		return "", err
	}
	err = s.doc.Apply(env)
	return s.doc.Text(), err
}
