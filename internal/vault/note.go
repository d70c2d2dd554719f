package vault

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

const fence = "---"

// Note is one action note loaded from a stage.
type Note struct {
	Stage    types.Stage
	Filename string
	Path     string
	Preamble types.Preamble
	Body     string
}

// Stem returns the filename without its extension, the note's stable
// identity across stage transitions.
func (n *Note) Stem() string { return Stem(n.Filename) }

// Stem strips the single extension from a filename.
func Stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

var topicSanitizer = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NewStem builds a canonical stem: <KIND>_<TOPIC>_<YYYYMMDDHHMMSS>.
func NewStem(kind, topic string, t time.Time) string {
	topic = strings.Trim(topicSanitizer.ReplaceAllString(topic, "_"), "_")
	if topic == "" {
		topic = "note"
	}
	return fmt.Sprintf("%s_%s_%s", kind, topic, t.Format("20060102150405"))
}

// StemTime extracts the timestamp suffix of a canonical stem.
func StemTime(stem string) (time.Time, bool) {
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102150405", stem[i+1:], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EncodeNote renders a preamble and body into the on-disk note format:
// a fenced YAML head followed by the free-form body.
func EncodeNote(p types.Preamble, body string) ([]byte, error) {
	head, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling preamble: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	buf.Write(head)
	buf.WriteString(fence + "\n\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// DecodeNote parses the fenced preamble and body out of raw note content.
func DecodeNote(raw []byte) (types.Preamble, string, error) {
	var p types.Preamble
	text := string(raw)
	if !strings.HasPrefix(text, fence+"\n") {
		return p, "", fmt.Errorf("missing preamble fence")
	}
	rest := text[len(fence)+1:]
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return p, "", fmt.Errorf("unterminated preamble fence")
	}
	head := rest[:end]
	body := rest[end+len(fence)+1:]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	if err := yaml.Unmarshal([]byte(head), &p); err != nil {
		return p, "", fmt.Errorf("parsing preamble: %w", err)
	}
	return p, body, nil
}

// Load reads and parses a note from a stage.
func (v *Vault) Load(stage types.Stage, filename string) (*Note, error) {
	path := filepath.Join(v.Dir(stage), filename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading note: %w", err)
	}
	p, body, err := DecodeNote(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPreamble, filename, err)
	}
	return &Note{
		Stage:    stage,
		Filename: filename,
		Path:     path,
		Preamble: p,
		Body:     body,
	}, nil
}

// LoadClaimed reads and parses a note from a peer's In_Progress directory.
func (v *Vault) LoadClaimed(peer types.PeerMode, filename string) (*Note, error) {
	path := filepath.Join(v.PeerDir(peer), filename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading claimed note: %w", err)
	}
	p, body, err := DecodeNote(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPreamble, filename, err)
	}
	return &Note{
		Stage:    types.StageInProgress,
		Filename: filename,
		Path:     path,
		Preamble: p,
		Body:     body,
	}, nil
}
