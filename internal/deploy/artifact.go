// Package deploy creates the escrow and cross-chain contracts from compiled
// Hardhat artifacts and keeps a record of every deployment.
package deploy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
)

// Artifact is the part of a Hardhat artifact a deployment needs.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// LoadArtifact reads artifacts/<...>/<Name>.json as written by `hardhat compile`.
func LoadArtifact(path string) (*Artifact, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Configuration(fmt.Sprintf("failed to read artifact %s", path)).WithError(err)
	}
	return ParseArtifact(blob)
}

func ParseArtifact(blob []byte) (*Artifact, error) {
	var file artifactFile
	if err := json.Unmarshal(blob, &file); err != nil {
		return nil, errors.Configuration("artifact is not valid JSON").WithError(err)
	}
	if len(file.ABI) == 0 {
		return nil, errors.Configuration("artifact has no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(file.ABI))
	if err != nil {
		return nil, errors.Configuration("artifact abi does not parse").WithError(err)
	}

	raw := strings.TrimSpace(file.Bytecode)
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	// unlinked libraries leave __$...$__ placeholders, which fail here
	code, err := hexutil.Decode(raw)
	if err != nil {
		return nil, errors.Configuration("artifact bytecode is not hex").WithError(err)
	}
	if len(code) == 0 {
		return nil, errors.Configuration(fmt.Sprintf("artifact %s has no bytecode (abstract contract or interface)", file.ContractName))
	}

	return &Artifact{ContractName: file.ContractName, ABI: parsed, Bytecode: code}, nil
}
