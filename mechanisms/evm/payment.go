// Package evm implements the IVXP payment service: USDC ERC-20 transfers and
// on-chain verification on Base networks.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	ivxp "github.com/ivxp/ivxp-go"
)

const erc20ABI = `[
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Backend is the subset of the EVM node API the payment service needs.
// *ethclient.Client satisfies it; tests inject fakes.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PaymentService moves and verifies USDC. It implements ivxp.PaymentService.
type PaymentService struct {
	backend     Backend
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
	usdcAddress common.Address
	chainID     *big.Int
	erc20       abi.ABI
}

// NewPaymentService creates a payment service for the given network using an
// injected backend. The private key funds outbound transfers; verification
// and balance queries work without it.
func NewPaymentService(backend Backend, privateKeyHex string, network ivxp.Network) (*PaymentService, error) {
	cfg, ok := NetworkConfigs[string(network)]
	if !ok {
		return nil, ivxp.NewError(ivxp.ErrCodeNetworkMismatch, fmt.Sprintf("unsupported network %q", network))
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	svc := &PaymentService{
		backend:     backend,
		usdcAddress: common.HexToAddress(cfg.USDCAddress),
		chainID:     cfg.ChainID,
		erc20:       parsed,
	}

	if privateKeyHex != "" {
		if !ivxp.IsValidPrivateKey(privateKeyHex) {
			return nil, ivxp.NewError(ivxp.ErrCodeInvalidPrivateKey,
				"private key must be 0x followed by 64 hex characters")
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, ivxp.WrapError(ivxp.ErrCodeInvalidPrivateKey, "failed to parse private key", err)
		}
		svc.privateKey = key
		svc.fromAddress = crypto.PubkeyToAddress(key.PublicKey)
	}

	return svc, nil
}

// Dial connects to the network's default RPC endpoint and returns a payment
// service backed by it.
func Dial(ctx context.Context, privateKeyHex string, network ivxp.Network) (*PaymentService, error) {
	cfg, ok := NetworkConfigs[string(network)]
	if !ok {
		return nil, ivxp.NewError(ivxp.ErrCodeNetworkMismatch, fmt.Sprintf("unsupported network %q", network))
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeNetworkError, "failed to connect to RPC endpoint", err)
	}
	return NewPaymentService(client, privateKeyHex, network)
}

// FromAddress returns the address funding outbound transfers, or "" when the
// service was created without a key.
func (p *PaymentService) FromAddress() string {
	if p.privateKey == nil {
		return ""
	}
	return p.fromAddress.Hex()
}

// Send transfers amountUSDC to the given address and returns the transaction
// hash once the transaction is accepted by the node.
func (p *PaymentService) Send(ctx context.Context, to, amountUSDC string) (string, error) {
	if p.privateKey == nil {
		return "", ivxp.NewError(ivxp.ErrCodeInvalidPrivateKey, "payment service has no signing key")
	}
	if !ivxp.IsValidPaymentAddress(to) {
		return "", ivxp.NewError(ivxp.ErrCodeInvalidAddress, "recipient is not a valid payment address")
	}
	units, err := ParseUSDCUnits(amountUSDC)
	if err != nil {
		return "", err
	}

	nonce, err := p.backend.PendingNonceAt(ctx, p.fromAddress)
	if err != nil {
		return "", ivxp.WrapError(ivxp.ErrCodeNetworkError, "failed to fetch nonce", err)
	}
	gasPrice, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", ivxp.WrapError(ivxp.ErrCodeNetworkError, "failed to fetch gas price", err)
	}

	data, err := p.erc20.Pack("transfer", common.HexToAddress(to), units)
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer call: %w", err)
	}

	tx := types.NewTransaction(nonce, p.usdcAddress, big.NewInt(0), DefaultTransferGasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := p.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", ivxp.WrapError(ivxp.ErrCodeNetworkError, "failed to send transaction", err)
	}
	return signedTx.Hash().Hex(), nil
}

// VerifyTransfer checks that txHash carries a successful USDC Transfer whose
// from, to, and amount all match expected. Any mismatch is (false, nil);
// transport problems surface as coded errors.
func (p *PaymentService) VerifyTransfer(ctx context.Context, txHash string, expected ivxp.ExpectedTransfer) (bool, error) {
	if !ivxp.IsValidTxHash(txHash) {
		return false, nil
	}
	expectedUnits, err := ParseUSDCUnits(expected.Amount)
	if err != nil {
		return false, nil
	}

	receipt, err := p.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, ivxp.WrapError(ivxp.ErrCodeNetworkError, "failed to fetch transaction receipt", err)
	}
	if receipt.Status != TxStatusSuccess {
		return false, nil
	}

	transferTopic := common.HexToHash(TransferEventTopic)
	for _, logEntry := range receipt.Logs {
		if logEntry.Address != p.usdcAddress {
			continue
		}
		if len(logEntry.Topics) != 3 || logEntry.Topics[0] != transferTopic {
			continue
		}
		from := common.BytesToAddress(logEntry.Topics[1].Bytes())
		to := common.BytesToAddress(logEntry.Topics[2].Bytes())
		amount := new(big.Int).SetBytes(logEntry.Data)

		if strings.EqualFold(from.Hex(), expected.From) &&
			strings.EqualFold(to.Hex(), expected.To) &&
			amount.Cmp(expectedUnits) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// Balance returns the USDC balance of addr as a 6-decimal fixed-point string.
func (p *PaymentService) Balance(ctx context.Context, addr string) (string, error) {
	if !ivxp.IsValidAddress(addr) {
		return "", ivxp.NewError(ivxp.ErrCodeInvalidAddress, "address is not a 20-byte hex address")
	}
	data, err := p.erc20.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return "", fmt.Errorf("failed to pack balanceOf call: %w", err)
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &p.usdcAddress, Data: data}, nil)
	if err != nil {
		return "", ivxp.WrapError(ivxp.ErrCodeNetworkError, "balanceOf call failed", err)
	}
	outputs, err := p.erc20.Unpack("balanceOf", result)
	if err != nil || len(outputs) != 1 {
		return "", ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to unpack balanceOf result", err)
	}
	units, ok := outputs[0].(*big.Int)
	if !ok {
		return "", ivxp.NewError(ivxp.ErrCodeInvalidResponse, "unexpected balanceOf result type")
	}
	return FormatUSDCUnits(units), nil
}

// ParseUSDCUnits converts a decimal USDC string to 6-decimal base units.
func ParseUSDCUnits(amount string) (*big.Int, error) {
	if !ivxp.IsValidUSDCAmount(amount) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidRequestParams,
			fmt.Sprintf("invalid USDC amount %q", amount))
	}
	whole, frac, _ := strings.Cut(amount, ".")
	frac = frac + strings.Repeat("0", USDCDecimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidRequestParams,
			fmt.Sprintf("invalid USDC amount %q", amount))
	}
	return units, nil
}

// FormatUSDCUnits renders base units as a fixed-point decimal with exactly
// six fractional digits.
func FormatUSDCUnits(units *big.Int) string {
	scale := big.NewInt(1_000_000)
	whole := new(big.Int).Div(units, scale)
	frac := new(big.Int).Mod(units, scale)
	return fmt.Sprintf("%s.%06s", whole.String(), frac.String())
}
