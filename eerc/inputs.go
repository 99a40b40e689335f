package eerc

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
)

// TransferParams is the key material and balance state needed to move amount
// from a sender to a receiver with an auditor copy.
type TransferParams struct {
	Amount          uint64
	SenderKey       PrivateKey
	SenderPublic    *babyjub.Point
	SenderBalance   uint64
	SenderEncrypted Ciphertext
	ReceiverPublic  *babyjub.Point
	AuditorPublic   *babyjub.Point
}

// TransferInputs are the witness inputs of the transfer circuit, encoded as
// decimal strings.
type TransferInputs struct {
	ValueToTransfer    string    `json:"ValueToTransfer"`
	SenderPrivateKey   string    `json:"SenderPrivateKey"`
	SenderPublicKey    [2]string `json:"SenderPublicKey"`
	SenderBalance      string    `json:"SenderBalance"`
	SenderBalanceC1    [2]string `json:"SenderBalanceC1"`
	SenderBalanceC2    [2]string `json:"SenderBalanceC2"`
	SenderVTTC1        [2]string `json:"SenderVTTC1"`
	SenderVTTC2        [2]string `json:"SenderVTTC2"`
	ReceiverPublicKey  [2]string `json:"ReceiverPublicKey"`
	ReceiverVTTC1      [2]string `json:"ReceiverVTTC1"`
	ReceiverVTTC2      [2]string `json:"ReceiverVTTC2"`
	ReceiverVTTRandom  string    `json:"ReceiverVTTRandom"`
	ReceiverPCT        [4]string `json:"ReceiverPCT"`
	ReceiverPCTAuthKey [2]string `json:"ReceiverPCTAuthKey"`
	ReceiverPCTNonce   string    `json:"ReceiverPCTNonce"`
	ReceiverPCTRandom  string    `json:"ReceiverPCTRandom"`
	AuditorPublicKey   [2]string `json:"AuditorPublicKey"`
	AuditorPCT         [4]string `json:"AuditorPCT"`
	AuditorPCTAuthKey  [2]string `json:"AuditorPCTAuthKey"`
	AuditorPCTNonce    string    `json:"AuditorPCTNonce"`
	AuditorPCTRandom   string    `json:"AuditorPCTRandom"`
}

// BuildTransferInputs encrypts the amount for the sender, receiver and
// auditor and returns the circuit inputs together with the PCT of the
// sender's new balance, which the transfer call carries.
func BuildTransferInputs(p TransferParams) (TransferInputs, PCT, error) {
	if p.SenderBalance < p.Amount {
		return TransferInputs{}, PCT{}, fmt.Errorf("sender balance %d is lower than amount %d", p.SenderBalance, p.Amount)
	}
	if p.SenderPublic == nil || p.ReceiverPublic == nil || p.AuditorPublic == nil {
		return TransferInputs{}, PCT{}, fmt.Errorf("missing public key")
	}
	if p.SenderEncrypted.C1 == nil || p.SenderEncrypted.C2 == nil {
		return TransferInputs{}, PCT{}, fmt.Errorf("missing sender encrypted balance")
	}
	amount := new(big.Int).SetUint64(p.Amount)

	senderVTT, _, err := EncryptRandom(p.SenderPublic, amount)
	if err != nil {
		return TransferInputs{}, PCT{}, err
	}
	receiverVTT, receiverRandom, err := EncryptRandom(p.ReceiverPublic, amount)
	if err != nil {
		return TransferInputs{}, PCT{}, err
	}
	receiverPCT, err := EncryptPCT(amount, p.ReceiverPublic)
	if err != nil {
		return TransferInputs{}, PCT{}, err
	}
	auditorPCT, err := EncryptPCT(amount, p.AuditorPublic)
	if err != nil {
		return TransferInputs{}, PCT{}, err
	}
	newBalance := new(big.Int).SetUint64(p.SenderBalance - p.Amount)
	senderPCT, err := EncryptPCT(newBalance, p.SenderPublic)
	if err != nil {
		return TransferInputs{}, PCT{}, err
	}

	in := TransferInputs{
		ValueToTransfer:    amount.String(),
		SenderPrivateKey:   p.SenderKey.Scalar().String(),
		SenderPublicKey:    pointStrings(p.SenderPublic),
		SenderBalance:      new(big.Int).SetUint64(p.SenderBalance).String(),
		SenderBalanceC1:    pointStrings(p.SenderEncrypted.C1),
		SenderBalanceC2:    pointStrings(p.SenderEncrypted.C2),
		SenderVTTC1:        pointStrings(senderVTT.C1),
		SenderVTTC2:        pointStrings(senderVTT.C2),
		ReceiverPublicKey:  pointStrings(p.ReceiverPublic),
		ReceiverVTTC1:      pointStrings(receiverVTT.C1),
		ReceiverVTTC2:      pointStrings(receiverVTT.C2),
		ReceiverVTTRandom:  receiverRandom.String(),
		ReceiverPCTNonce:   receiverPCT.PCT[6].String(),
		ReceiverPCTRandom:  receiverPCT.EncRandom.String(),
		AuditorPublicKey:   pointStrings(p.AuditorPublic),
		AuditorPCTNonce:    auditorPCT.PCT[6].String(),
		AuditorPCTRandom:   auditorPCT.EncRandom.String(),
		ReceiverPCTAuthKey: [2]string{receiverPCT.PCT[4].String(), receiverPCT.PCT[5].String()},
		AuditorPCTAuthKey:  [2]string{auditorPCT.PCT[4].String(), auditorPCT.PCT[5].String()},
	}
	for i := 0; i < 4; i++ {
		in.ReceiverPCT[i] = receiverPCT.PCT[i].String()
		in.AuditorPCT[i] = auditorPCT.PCT[i].String()
	}
	return in, senderPCT.PCT, nil
}

func pointStrings(p *babyjub.Point) [2]string {
	return [2]string{p.X.String(), p.Y.String()}
}
