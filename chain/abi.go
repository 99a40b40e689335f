package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EncryptedERCABI is the subset of the EncryptedERC contract ABI the daemon uses.
const EncryptedERCABI = `[
{"anonymous":false,"name":"PrivateTransfer","type":"event","inputs":[
 {"indexed":true,"internalType":"address","name":"from","type":"address"},
 {"indexed":true,"internalType":"address","name":"to","type":"address"},
 {"indexed":false,"internalType":"uint256[7]","name":"auditorPCT","type":"uint256[7]"},
 {"indexed":true,"internalType":"address","name":"auditorAddress","type":"address"}]},
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
 {"internalType":"address","name":"user","type":"address"},
 {"internalType":"uint256","name":"tokenId","type":"uint256"}],
 "outputs":[
 {"internalType":"struct EGCT","name":"eGCT","type":"tuple","components":[
  {"internalType":"struct Point","name":"c1","type":"tuple","components":[
   {"internalType":"uint256","name":"x","type":"uint256"},{"internalType":"uint256","name":"y","type":"uint256"}]},
  {"internalType":"struct Point","name":"c2","type":"tuple","components":[
   {"internalType":"uint256","name":"x","type":"uint256"},{"internalType":"uint256","name":"y","type":"uint256"}]}]},
 {"internalType":"uint256","name":"nonce","type":"uint256"},
 {"internalType":"struct AmountPCT[]","name":"amountPCTs","type":"tuple[]","components":[
  {"internalType":"uint256[7]","name":"pct","type":"uint256[7]"},
  {"internalType":"uint256","name":"index","type":"uint256"}]},
 {"internalType":"uint256[7]","name":"balancePCT","type":"uint256[7]"},
 {"internalType":"uint256","name":"transactionIndex","type":"uint256"}]},
{"name":"auditorPublicKey","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"internalType":"uint256","name":"x","type":"uint256"},{"internalType":"uint256","name":"y","type":"uint256"}]},
{"name":"transfer","type":"function","stateMutability":"nonpayable","outputs":[],"inputs":[
 {"internalType":"address","name":"to","type":"address"},
 {"internalType":"uint256","name":"tokenId","type":"uint256"},
 {"internalType":"struct TransferProof","name":"proof","type":"tuple","components":[
  {"internalType":"struct ProofPoints","name":"proofPoints","type":"tuple","components":[
   {"internalType":"uint256[2]","name":"a","type":"uint256[2]"},
   {"internalType":"uint256[2][2]","name":"b","type":"uint256[2][2]"},
   {"internalType":"uint256[2]","name":"c","type":"uint256[2]"}]},
  {"internalType":"uint256[32]","name":"publicSignals","type":"uint256[32]"}]},
 {"internalType":"uint256[7]","name":"balancePCT","type":"uint256[7]"}]}
]`

// RegistrarABI is the subset of the Registrar contract ABI the daemon uses.
const RegistrarABI = `[
{"name":"getUserPublicKey","type":"function","stateMutability":"view",
 "inputs":[{"internalType":"address","name":"user","type":"address"}],
 "outputs":[{"internalType":"uint256[2]","name":"publicKey","type":"uint256[2]"}]},
{"name":"isUserRegistered","type":"function","stateMutability":"view",
 "inputs":[{"internalType":"address","name":"user","type":"address"}],
 "outputs":[{"internalType":"bool","name":"","type":"bool"}]}
]`

var (
	eercABI      = mustParseABI(EncryptedERCABI)
	registrarABI = mustParseABI(RegistrarABI)

	// PrivateTransferEvent is the confidential transfer event emitted by the token contract.
	PrivateTransferEvent = eercABI.Events["PrivateTransfer"]
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
