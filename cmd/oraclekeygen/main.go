// oraclekeygen generates principal key sets for the batch oracle
// controller: an owner, provider principals, and an oracle signing
// key, printed as JSON for provisioning.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/i5heu/ouroboros-crypt/pkg/keys"

	"github.com/i5heu/ouroboros-oracle/pkg/proof"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

type keySetOutput struct {
	Principal string `json:"principal"`
	PubKem    string `json:"pubKem"`
	PubSign   string `json:"pubSign"`
	KeyJSON   string `json:"keyJSON"`
}

type oracleKeyOutput struct {
	KeyID   string `json:"keyId"`
	PubKem  string `json:"pubKem"`
	PubSign string `json:"pubSign"`
	KeyJSON string `json:"keyJSON"`
}

type keygenOutput struct {
	Owner     keySetOutput    `json:"owner"`
	Providers []keySetOutput  `json:"providers"`
	Oracle    oracleKeyOutput `json:"oracle"`
}

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"oraclekeygen: %v\n",
			err,
		)
		os.Exit(1)
	}
}

func run() error {
	providerCount := flag.Int(
		"providers",
		2,
		"number of provider key sets to generate",
	)
	flag.Parse()

	owner, err := generateKeySet()
	if err != nil {
		return fmt.Errorf("generate owner: %w", err)
	}

	out := keygenOutput{
		Owner:     owner,
		Providers: make([]keySetOutput, 0, *providerCount),
	}

	for i := range *providerCount {
		ks, err := generateKeySet()
		if err != nil {
			return fmt.Errorf(
				"generate provider %d: %w",
				i,
				err,
			)
		}
		out.Providers = append(out.Providers, ks)
	}

	oracleKey, err := generateOracleKey()
	if err != nil {
		return fmt.Errorf("generate oracle key: %w", err)
	}
	out.Oracle = oracleKey

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func generateKeySet() (keySetOutput, error) {
	signer, err := keys.NewAsyncCrypt()
	if err != nil {
		return keySetOutput{}, fmt.Errorf(
			"generate keys: %w",
			err,
		)
	}

	pubVal := signer.GetPublicKey()
	pub := &pubVal

	principal, err := types.PrincipalFromKey(pub)
	if err != nil {
		return keySetOutput{}, fmt.Errorf(
			"derive principal: %w",
			err,
		)
	}

	pubKem, err := pub.ToBase64KEM()
	if err != nil {
		return keySetOutput{}, fmt.Errorf(
			"encode pub kem: %w",
			err,
		)
	}

	pubSign, err := pub.ToBase64Sign()
	if err != nil {
		return keySetOutput{}, fmt.Errorf(
			"encode pub sign: %w",
			err,
		)
	}

	keyJSON, err := exportKeyJSON(signer)
	if err != nil {
		return keySetOutput{}, fmt.Errorf(
			"export key: %w",
			err,
		)
	}

	return keySetOutput{
		Principal: principal.String(),
		PubKem:    pubKem,
		PubSign:   pubSign,
		KeyJSON:   keyJSON,
	}, nil
}

func generateOracleKey() (oracleKeyOutput, error) {
	signer, err := keys.NewAsyncCrypt()
	if err != nil {
		return oracleKeyOutput{}, fmt.Errorf(
			"generate keys: %w",
			err,
		)
	}

	pubVal := signer.GetPublicKey()
	pub := &pubVal

	keyID, err := proof.ComputeKeyHash(pub)
	if err != nil {
		return oracleKeyOutput{}, fmt.Errorf(
			"derive key id: %w",
			err,
		)
	}

	pubKem, err := pub.ToBase64KEM()
	if err != nil {
		return oracleKeyOutput{}, fmt.Errorf(
			"encode pub kem: %w",
			err,
		)
	}

	pubSign, err := pub.ToBase64Sign()
	if err != nil {
		return oracleKeyOutput{}, fmt.Errorf(
			"encode pub sign: %w",
			err,
		)
	}

	keyJSON, err := exportKeyJSON(signer)
	if err != nil {
		return oracleKeyOutput{}, fmt.Errorf(
			"export key: %w",
			err,
		)
	}

	return oracleKeyOutput{
		KeyID:   keyID.Hex(),
		PubKem:  pubKem,
		PubSign: pubSign,
		KeyJSON: keyJSON,
	}, nil
}

func exportKeyJSON(
	ac *keys.AsyncCrypt,
) (string, error) {
	tmpFile, err := os.CreateTemp("", "oraclekeygen-*.json")
	if err != nil {
		return "", fmt.Errorf(
			"create temp file: %w",
			err,
		)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := ac.SaveToFile(tmpPath); err != nil {
		return "", fmt.Errorf("save key: %w", err)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", fmt.Errorf(
			"read key file: %w",
			err,
		)
	}

	return string(data), nil
}
