package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

var ErrKeyNotFound = errors.New("config key not found")

// Editor edits the YAML config file in place, keeping key order and comments.
// Keys are dotted paths such as "realtime.url".
type Editor struct {
	path string
	doc  *yaml.Node
}

func NewEditor(path string) (*Editor, error) {
	log.Debug().Str("path", path).Msg("creating config editor")
	e := &Editor{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		e.doc = emptyDocument()
		return e, nil
	case err != nil:
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if doc.Kind == 0 {
		doc = *emptyDocument()
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.Errorf("%s: root node is not a mapping", path)
	}
	e.doc = &doc
	return e, nil
}

func emptyDocument() *yaml.Node {
	return &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
	}
}

func (e *Editor) Path() string { return e.path }

func (e *Editor) root() *yaml.Node { return e.doc.Content[0] }

func splitKey(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("empty config key")
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, errors.Errorf("invalid config key %q", key)
		}
	}
	return parts, nil
}

func lookup(m *yaml.Node, name string) (int, *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == name {
			return i, m.Content[i+1]
		}
	}
	return -1, nil
}

// Set assigns a scalar value, creating intermediate mappings as needed.
func (e *Editor) Set(key, value string) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	node := e.root()
	for i, p := range parts {
		_, child := lookup(node, p)
		last := i == len(parts)-1
		if child == nil {
			if last {
				child = &yaml.Node{Kind: yaml.ScalarNode, Value: value}
			} else {
				child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p}, child)
		}
		if last {
			if child.Kind != yaml.ScalarNode {
				return errors.Errorf("%s is a section, not a value", key)
			}
			child.Value = value
			child.Tag = ""
			return nil
		}
		if child.Kind != yaml.MappingNode {
			return errors.Errorf("%s is a value, not a section", strings.Join(parts[:i+1], "."))
		}
		node = child
	}
	return nil
}

func (e *Editor) Get(key string) (string, error) {
	parts, err := splitKey(key)
	if err != nil {
		return "", err
	}
	node := e.root()
	for _, p := range parts {
		if node.Kind != yaml.MappingNode {
			return "", errors.Wrap(ErrKeyNotFound, key)
		}
		_, node = lookup(node, p)
		if node == nil {
			return "", errors.Wrap(ErrKeyNotFound, key)
		}
	}
	if node.Kind != yaml.ScalarNode {
		return "", errors.Errorf("%s is a section, not a value", key)
	}
	return node.Value, nil
}

func (e *Editor) Unset(key string) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	node := e.root()
	for i, p := range parts {
		idx, child := lookup(node, p)
		if child == nil {
			return errors.Wrap(ErrKeyNotFound, key)
		}
		if i == len(parts)-1 {
			node.Content = append(node.Content[:idx], node.Content[idx+2:]...)
			return nil
		}
		if child.Kind != yaml.MappingNode {
			return errors.Wrap(ErrKeyNotFound, key)
		}
		node = child
	}
	return nil
}

// Flatten lists every scalar in file order under its dotted key.
func (e *Editor) Flatten() *orderedmap.OrderedMap[string, string] {
	out := orderedmap.New[string, string]()
	var walk func(prefix string, n *yaml.Node)
	walk = func(prefix string, n *yaml.Node) {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			switch v := n.Content[i+1]; v.Kind {
			case yaml.MappingNode:
				walk(key, v)
			case yaml.ScalarNode:
				out.Set(key, v.Value)
			}
		}
	}
	walk("", e.root())
	return out
}

func (e *Editor) Save() error {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(e.doc); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.WriteFile(e.path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", e.path)
	}
	return nil
}
