package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/eerc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var log = golog.Logger("auctiond/prover")

// Client asks an external proof generation service to prove transfers.
type Client struct {
	url    string
	client *http.Client
}

// New returns a client posting transfer inputs to url.
func New(url string) *Client {
	return &Client{
		url:    strings.TrimRight(url, "/") + "/prove/transfer",
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// calldata is the service response: the Groth16 proof points and the public
// signals, as decimal or 0x-prefixed strings.
type calldata struct {
	ProofPoints struct {
		A [2]string    `json:"a"`
		B [2][2]string `json:"b"`
		C [2]string    `json:"c"`
	} `json:"proofPoints"`
	PublicSignals []string `json:"publicSignals"`
}

// Prepare implements settler.Preparer.
func (c *Client) Prepare(ctx context.Context, in eerc.TransferInputs) (chain.Proof, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return chain.Proof{}, fmt.Errorf("marshaling inputs: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return chain.Proof{}, fmt.Errorf("building http request: %v", err)
	}
	id := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", id)
	log.Debugf("requesting transfer proof %s", id)
	res, err := c.client.Do(req)
	if err != nil {
		return chain.Proof{}, fmt.Errorf("sending http request %s: %v", id, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Errorf("closing prover response: %v", err)
		}
	}()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return chain.Proof{}, fmt.Errorf("prover returned bad status %d for %s: %s", res.StatusCode, id, strings.TrimSpace(string(msg)))
	}
	var cd calldata
	if err := json.NewDecoder(res.Body).Decode(&cd); err != nil {
		return chain.Proof{}, fmt.Errorf("decoding prover response: %v", err)
	}
	return cd.proof()
}

func (cd calldata) proof() (chain.Proof, error) {
	var (
		p   chain.Proof
		err error
	)
	if len(cd.PublicSignals) != len(p.PublicSignals) {
		return chain.Proof{}, fmt.Errorf("expected %d public signals, got %d", len(p.PublicSignals), len(cd.PublicSignals))
	}
	for i := 0; i < 2; i++ {
		if p.ProofPoints.A[i], err = parseInt(cd.ProofPoints.A[i]); err != nil {
			return chain.Proof{}, err
		}
		if p.ProofPoints.C[i], err = parseInt(cd.ProofPoints.C[i]); err != nil {
			return chain.Proof{}, err
		}
		for j := 0; j < 2; j++ {
			if p.ProofPoints.B[i][j], err = parseInt(cd.ProofPoints.B[i][j]); err != nil {
				return chain.Proof{}, err
			}
		}
	}
	for i, s := range cd.PublicSignals {
		if p.PublicSignals[i], err = parseInt(s); err != nil {
			return chain.Proof{}, err
		}
	}
	return p, nil
}

func parseInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	return v, nil
}
