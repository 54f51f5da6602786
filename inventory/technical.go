/*
technical.go - Explosive-specific technical properties

PURPOSE:
  A batch carries at most one technical-properties record, and which one
  depends on its explosive type: ANFO batches carry ANFOProperties, emulsion
  batches carry EmulsionProperties. The engine never interprets the payload,
  it only checks the variant matches the batch and stores/forwards it.

ENCODING:
  Persisted and sent over the wire as a tagged envelope:
    {"type": "ANFO", "data": {"density": "0.82", ...}}
  A nil TechnicalProperties encodes as JSON null.
*/
package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TechnicalProperties is the closed set {ANFOProperties, EmulsionProperties}.
type TechnicalProperties interface {
	ExplosiveType() ExplosiveType
	sealed()
}

type ANFOProperties struct {
	Density           decimal.Decimal `json:"density"`             // g/cm3
	FuelOilPercentage decimal.Decimal `json:"fuel_oil_percentage"` // typically 5.5-6.0
	PrillSize         string          `json:"prill_size,omitempty"`
	WaterResistance   string          `json:"water_resistance,omitempty"`
}

func (ANFOProperties) ExplosiveType() ExplosiveType { return ExplosiveANFO }
func (ANFOProperties) sealed()                      {}

type EmulsionProperties struct {
	Density              decimal.Decimal `json:"density"`
	VelocityOfDetonation decimal.Decimal `json:"velocity_of_detonation"` // m/s
	WaterResistance      string          `json:"water_resistance,omitempty"`
	Sensitizer           string          `json:"sensitizer,omitempty"`
	MinimumPrimer        string          `json:"minimum_primer,omitempty"`
}

func (EmulsionProperties) ExplosiveType() ExplosiveType { return ExplosiveEmulsion }
func (EmulsionProperties) sealed()                      {}

type technicalEnvelope struct {
	Type ExplosiveType   `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalTechnicalProperties encodes p as a tagged envelope.
func MarshalTechnicalProperties(p TechnicalProperties) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(technicalEnvelope{Type: p.ExplosiveType(), Data: data})
}

// UnmarshalTechnicalProperties decodes an envelope written by
// MarshalTechnicalProperties. Empty input and JSON null decode to nil.
func UnmarshalTechnicalProperties(b []byte) (TechnicalProperties, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env technicalEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decoding technical properties: %w", err)
	}
	switch env.Type {
	case ExplosiveANFO:
		var p ANFOProperties
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding ANFO properties: %w", err)
		}
		return p, nil
	case ExplosiveEmulsion:
		var p EmulsionProperties
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding emulsion properties: %w", err)
		}
		return p, nil
	default:
		return nil, argErr("technical_properties", fmt.Sprintf("unknown type %q", env.Type))
	}
}
