package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	EventOwnerChanged     = "DIDOwnerChanged"
	EventDelegateChanged  = "DIDDelegateChanged"
	EventAttributeChanged = "DIDAttributeChanged"
)

//go:embed did_registry_abi.json
var registryArtifact []byte

// HardhatArtifact is the compiled contract artifact the registry ABI is read from.
type HardhatArtifact struct {
	Format       string          `json:"_format"`
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
}

var (
	registryABI     abi.ABI
	registryABIErr  error
	registryABIOnce sync.Once
)

// ABI returns the parsed EthereumDIDRegistry ABI.
func ABI() (abi.ABI, error) {
	registryABIOnce.Do(func() {
		var artifact HardhatArtifact
		if err := json.Unmarshal(registryArtifact, &artifact); err != nil {
			registryABIErr = fmt.Errorf("error parsing registry artifact: %w", err)
			return
		}

		registryABI, registryABIErr = abi.JSON(bytes.NewReader(artifact.ABI))
		if registryABIErr != nil {
			registryABIErr = fmt.Errorf("failed to parse ABI: %w", registryABIErr)
		}
	})

	return registryABI, registryABIErr
}
