// Package decisionstore signs and persists DecisionRecords: an Ed25519-
// signed audit trail of the Planner's and PolicyGuard's automated
// decisions, written through a WormLog-style append directory.
package decisionstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/filagent/htncore/herrors"
)

// DecisionRecord is a single signed, auditable decision. Signature is
// computed over the canonical JSON of every other field (sorted keys, the
// signature field itself excluded); it verifies false if any byte of the
// signed payload changes.
type DecisionRecord struct {
	DRID                   string         `json:"dr_id"`
	Timestamp              string         `json:"ts"`
	Actor                  string         `json:"actor"`
	TaskID                 string         `json:"task_id"`
	PolicyVersion          string         `json:"policy_version"`
	ModelFingerprint       string         `json:"model_fingerprint"`
	PromptHash             string         `json:"prompt_hash"`
	ReasoningMarkers       []string       `json:"reasoning_markers"`
	ToolsUsed              []string       `json:"tools_used"`
	AlternativesConsidered []string       `json:"alternatives_considered"`
	Decision               string         `json:"decision"`
	Constraints            map[string]any `json:"constraints"`
	ExpectedRisk           []string       `json:"expected_risk"`
	Signature              string         `json:"signature,omitempty"`
}

// Extras carries the optional fields of CreateDR.
type Extras struct {
	PolicyVersion          string
	ModelFingerprint       string
	ReasoningMarkers       []string
	ToolsUsed              []string
	AlternativesConsidered []string
	Constraints            map[string]any
	ExpectedRisk           []string
}

// Store holds one Ed25519 key pair per process instance and signs/persists
// DecisionRecords under a single directory.
type Store struct {
	mu         sync.Mutex
	dir        string
	keyDir     string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// New generates a fresh Ed25519 key pair, writes it (unencrypted, per the
// reference design — a production deployment should route this through a
// secrets backend instead) to keyDir, and prepares dir for decision record
// storage.
func New(dir, keyDir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, herrors.Wrap("decisionstore.New", herrors.KindIntegrityCheckFailed, "", err)
	}
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		return nil, herrors.Wrap("decisionstore.New", herrors.KindIntegrityCheckFailed, "", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, herrors.Wrap("decisionstore.New", herrors.KindIntegrityCheckFailed, "", err)
	}

	s := &Store{dir: dir, keyDir: keyDir, privateKey: priv, publicKey: pub}
	if err := s.saveKeys(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) saveKeys() error {
	if err := os.WriteFile(filepath.Join(s.keyDir, "private_key.pem"), pemEncode("PRIVATE KEY", s.privateKey), 0o600); err != nil {
		return herrors.Wrap("decisionstore.saveKeys", herrors.KindIntegrityCheckFailed, "", err)
	}
	if err := os.WriteFile(filepath.Join(s.keyDir, "public_key.pem"), pemEncode("PUBLIC KEY", s.publicKey), 0o644); err != nil {
		return herrors.Wrap("decisionstore.saveKeys", herrors.KindIntegrityCheckFailed, "", err)
	}
	return nil
}

// PublicKey exposes the store's verification key.
func (s *Store) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

func genDRID() string {
	day := time.Now().UTC().Format("20060102")
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("DR-%s-%s", day, hex.EncodeToString(buf[:]))
}

// HashPrompt returns the sha256:<hex> form of a prompt hash.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// CreateDR builds, signs, and persists a DecisionRecord. promptHash must
// already be in sha256:<hex> form (see HashPrompt).
func (s *Store) CreateDR(actor, taskID, decision, promptHash string, extras Extras) (*DecisionRecord, error) {
	dr := &DecisionRecord{
		DRID:                   genDRID(),
		Timestamp:              time.Now().UTC().Format(time.RFC3339Nano),
		Actor:                  actor,
		TaskID:                 taskID,
		PolicyVersion:          extras.PolicyVersion,
		ModelFingerprint:       extras.ModelFingerprint,
		PromptHash:             promptHash,
		ReasoningMarkers:       orEmpty(extras.ReasoningMarkers),
		ToolsUsed:              orEmpty(extras.ToolsUsed),
		AlternativesConsidered: orEmpty(extras.AlternativesConsidered),
		Decision:               decision,
		Constraints:            extras.Constraints,
		ExpectedRisk:           orEmpty(extras.ExpectedRisk),
	}
	if dr.Constraints == nil {
		dr.Constraints = map[string]any{}
	}

	sig, err := sign(s.privateKey, dr)
	if err != nil {
		return nil, herrors.Wrap("decisionstore.CreateDR", herrors.KindSignatureInvalid, dr.DRID, err)
	}
	dr.Signature = sig

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(dr); err != nil {
		return nil, herrors.Wrap("decisionstore.CreateDR", herrors.KindIntegrityCheckFailed, dr.DRID, err)
	}
	return dr, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) write(dr *DecisionRecord) error {
	data, err := json.MarshalIndent(dr, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, dr.DRID+".json"), data, 0o644)
}

// LoadDR reads a previously written DecisionRecord by id, or returns nil
// if it doesn't exist.
func (s *Store) LoadDR(drID string) (*DecisionRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, drID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, herrors.Wrap("decisionstore.LoadDR", herrors.KindIntegrityCheckFailed, drID, err)
	}
	var dr DecisionRecord
	if err := json.Unmarshal(data, &dr); err != nil {
		return nil, herrors.Wrap("decisionstore.LoadDR", herrors.KindIntegrityCheckFailed, drID, err)
	}
	return &dr, nil
}

// Verify re-canonicalizes dr without its signature and checks the
// signature bytes against publicKey.
func Verify(dr *DecisionRecord, publicKey ed25519.PublicKey) bool {
	if dr.Signature == "" {
		return false
	}
	sigHex, ok := stripPrefix(dr.Signature, "ed25519:")
	if !ok {
		return false
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	payload, err := canonicalBytes(dr)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, payload, sigBytes)
}

func sign(privateKey ed25519.PrivateKey, dr *DecisionRecord) (string, error) {
	payload, err := canonicalBytes(dr)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(privateKey, payload)
	return "ed25519:" + hex.EncodeToString(sig), nil
}

// canonicalBytes serializes dr to JSON with sorted keys and the signature
// field excluded — the exact bytes that get signed and, on verification,
// re-derived and compared against.
func canonicalBytes(dr *DecisionRecord) ([]byte, error) {
	unsigned := *dr
	unsigned.Signature = ""
	m := map[string]any{}
	raw, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "signature")
	// encoding/json sorts map[string]any keys alphabetically on marshal,
	// which is exactly the canonical form the signature is computed over.
	return json.Marshal(m)
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}
