// Package model defines the DID document types consumed by the identity
// service. A resolved document binds a DID to its verification keys and
// service endpoints.
package model

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pilacorp/go-ledger-sdk/ledger/canonicaljson"
)

// Document represents a resolved DID Document.
type Document struct {
	Context            []string             `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Service            []Service            `json:"service,omitempty"`
}

// VerificationMethod is a single public key entry within a DID Document,
// tagged with an algorithm type. Exactly one of PublicKeyMultibase and
// PublicKeyHex carries the key material.
type VerificationMethod struct {
	ID                 string           `json:"id"`
	Type               string           `json:"type"`
	Controller         string           `json:"controller"`
	PublicKeyMultibase string           `json:"publicKeyMultibase,omitempty"`
	PublicKeyHex       string           `json:"publicKeyHex,omitempty"`
	ServiceEndpoint    ServiceEndpoints `json:"serviceEndpoint,omitempty"`
}

// Service is a service endpoint declared by the document.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type,omitempty"`
	ServiceEndpoint string `json:"serviceEndpoint,omitempty"`
}

// ServiceEndpoints holds the service references of a verification method.
// Documents encode this field either as a single string or as a list.
type ServiceEndpoints []string

// UnmarshalJSON accepts both the single-reference and list-valued forms.
func (s *ServiceEndpoints) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
		} else {
			*s = ServiceEndpoints{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("service endpoint must be a string or a list of strings: %w", err)
	}
	*s = many
	return nil
}

// Fingerprint returns the base64-encoded SHA-256 digest of the canonical
// document, a stable content-address independent of field order.
func (d *Document) Fingerprint() (string, error) {
	data, err := canonicaljson.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize document: %w", err)
	}
	digest := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(digest[:]), nil
}
