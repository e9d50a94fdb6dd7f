package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/GoPolymarket/liquigate/internal/config"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

const (
	erc20ABIJSON = `[
		{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
	]`

	pairABIJSON = `[
		{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`

	routerABIJSON = `[
		{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"amountADesired","type":"uint256"},{"name":"amountBDesired","type":"uint256"},{"name":"amountAMin","type":"uint256"},{"name":"amountBMin","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"addLiquidity","outputs":[{"name":"amountA","type":"uint256"},{"name":"amountB","type":"uint256"},{"name":"liquidity","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
	]`

	receiptPollInterval = 2 * time.Second
)

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	mintTopic     = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
)

// EthGateway talks to an EVM chain through a single RPC endpoint. Read
// calls are throttled so a tight poll loop cannot hammer the node.
type EthGateway struct {
	client  *ethclient.Client
	limiter *rate.Limiter

	erc20ABI  abi.ABI
	pairABI   abi.ABI
	routerABI abi.ABI

	tokenA    common.Address
	tokenB    common.Address
	pair      common.Address
	router    common.Address
	recipient common.Address

	key     *ecdsa.PrivateKey
	chainID *big.Int

	// true when the pair's token0 is our tokenA
	aIsToken0 bool
}

func NewEthGateway(ctx context.Context, cfg config.ChainConfig, pairCfg config.PairConfig) (*EthGateway, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain.rpc_url not configured")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, err
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, err
	}
	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, err
	}

	for name, addr := range map[string]string{
		"pair.token_a":            pairCfg.TokenA,
		"pair.token_b":            pairCfg.TokenB,
		"pair.pair_address":       pairCfg.PairAddress,
		"pair.router_address":     pairCfg.RouterAddress,
		"pair.collection_account": pairCfg.CollectionAccount,
	} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s: %q", name, addr)
		}
	}

	rps := cfg.ReadRateLimit
	if rps <= 0 {
		rps = 10
	}

	g := &EthGateway{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		erc20ABI:  erc20,
		pairABI:   pairABI,
		routerABI: routerABI,
		tokenA:    common.HexToAddress(pairCfg.TokenA),
		tokenB:    common.HexToAddress(pairCfg.TokenB),
		pair:      common.HexToAddress(pairCfg.PairAddress),
		router:    common.HexToAddress(pairCfg.RouterAddress),
		recipient: common.HexToAddress(pairCfg.CollectionAccount),
		chainID:   big.NewInt(cfg.ChainID),
	}

	if cfg.PrivateKey != "" {
		pk := strings.TrimPrefix(cfg.PrivateKey, "0x")
		key, err := crypto.HexToECDSA(pk)
		if err != nil {
			return nil, fmt.Errorf("invalid chain.private_key: %w", err)
		}
		g.key = key
	}

	// Orient reserve0/reserve1 onto tokenA/tokenB once at startup.
	out, err := g.read(ctx, g.pair, g.pairABI, "token0")
	if err != nil {
		return nil, fmt.Errorf("read pair token0: %w", err)
	}
	token0, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected token0 output")
	}
	g.aIsToken0 = token0 == g.tokenA
	if !g.aIsToken0 && token0 != g.tokenB {
		return nil, fmt.Errorf("pair token0 %s matches neither configured token", token0)
	}

	return g, nil
}

func (g *EthGateway) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	out, err := g.read(ctx, common.HexToAddress(token), g.erc20ABI, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return decimal.Zero, apperrors.New(apperrors.ErrTransientRead, "balanceOf failed", err)
	}
	return fromBig(out[0]), nil
}

func (g *EthGateway) GetReserves(ctx context.Context) (Reserves, error) {
	out, err := g.read(ctx, g.pair, g.pairABI, "getReserves")
	if err != nil {
		return Reserves{}, apperrors.New(apperrors.ErrTransientRead, "getReserves failed", err)
	}
	r0, r1 := fromBig(out[0]), fromBig(out[1])
	if g.aIsToken0 {
		return Reserves{ReserveA: r0, ReserveB: r1}, nil
	}
	return Reserves{ReserveA: r1, ReserveB: r0}, nil
}

func (g *EthGateway) LPTotalSupply(ctx context.Context) (decimal.Decimal, error) {
	out, err := g.read(ctx, g.pair, g.pairABI, "totalSupply")
	if err != nil {
		return decimal.Zero, apperrors.New(apperrors.ErrTransientRead, "totalSupply failed", err)
	}
	return fromBig(out[0]), nil
}

func (g *EthGateway) EnsureApproval(ctx context.Context, token string, amount decimal.Decimal) error {
	if g.key == nil {
		return fmt.Errorf("chain.private_key not configured, cannot sign")
	}
	tokenAddr := common.HexToAddress(token)
	owner := crypto.PubkeyToAddress(g.key.PublicKey)

	out, err := g.read(ctx, tokenAddr, g.erc20ABI, "allowance", owner, g.router)
	if err != nil {
		return apperrors.New(apperrors.ErrTransientRead, "allowance read failed", err)
	}
	if fromBig(out[0]).GreaterThanOrEqual(amount) {
		return nil
	}

	opts, err := g.transactOpts(ctx)
	if err != nil {
		return err
	}
	contract := bind.NewBoundContract(tokenAddr, g.erc20ABI, g.client, g.client, g.client)
	tx, err := contract.Transact(opts, "approve", g.router, amount.BigInt())
	if err != nil {
		return apperrors.New(apperrors.ErrSubmission, "approve broadcast failed", err)
	}
	receipt, err := g.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return apperrors.Newf(apperrors.ErrTxReverted, "approve reverted: %s", tx.Hash())
	}
	return nil
}

func (g *EthGateway) AddLiquidity(ctx context.Context, amountADesired, amountBDesired, amountAMin, amountBMin decimal.Decimal, deadline time.Time) (string, error) {
	opts, err := g.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	contract := bind.NewBoundContract(g.router, g.routerABI, g.client, g.client, g.client)
	tx, err := contract.Transact(opts, "addLiquidity",
		g.tokenA, g.tokenB,
		amountADesired.BigInt(), amountBDesired.BigInt(),
		amountAMin.BigInt(), amountBMin.BigInt(),
		g.recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return "", apperrors.New(apperrors.ErrSubmission, "addLiquidity broadcast failed", err)
	}
	return tx.Hash().Hex(), nil
}

func (g *EthGateway) WaitConfirmation(ctx context.Context, txRef string) (AddResult, error) {
	receipt, err := g.waitReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		return AddResult{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return AddResult{}, apperrors.Newf(apperrors.ErrTxReverted, "addLiquidity reverted: %s", txRef)
	}
	return g.parseAddResult(receipt), nil
}

func (g *EthGateway) TxOutcome(ctx context.Context, txRef string) (Outcome, AddResult, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return OutcomePending, AddResult{}, nil
		}
		return OutcomePending, AddResult{}, apperrors.New(apperrors.ErrTransientRead, "receipt lookup failed", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return OutcomeReverted, AddResult{}, nil
	}
	return OutcomeConfirmed, g.parseAddResult(receipt), nil
}

// parseAddResult extracts realized amounts from the pair's Mint and
// LP-token Transfer events in the receipt.
func (g *EthGateway) parseAddResult(receipt *types.Receipt) AddResult {
	res := AddResult{
		UsedA:    decimal.Zero,
		UsedB:    decimal.Zero,
		LPTokens: decimal.Zero,
	}
	for _, lg := range receipt.Logs {
		if lg.Address != g.pair || len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case mintTopic:
			if len(lg.Data) >= 64 {
				used0 := decimal.NewFromBigInt(new(big.Int).SetBytes(lg.Data[:32]), 0)
				used1 := decimal.NewFromBigInt(new(big.Int).SetBytes(lg.Data[32:64]), 0)
				if g.aIsToken0 {
					res.UsedA, res.UsedB = used0, used1
				} else {
					res.UsedA, res.UsedB = used1, used0
				}
			}
		case transferTopic:
			// LP tokens minted to our recipient
			if len(lg.Topics) == 3 && common.BytesToAddress(lg.Topics[2].Bytes()) == g.recipient {
				res.LPTokens = decimal.NewFromBigInt(new(big.Int).SetBytes(lg.Data), 0)
			}
		}
	}
	return res
}

func (g *EthGateway) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, apperrors.New(apperrors.ErrTransientRead, "receipt lookup failed", err)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Newf(apperrors.ErrConfirmTimeout, "no receipt for %s", hash)
		case <-ticker.C:
		}
	}
}

func (g *EthGateway) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if g.key == nil {
		return nil, fmt.Errorf("chain.private_key not configured, cannot sign")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (g *EthGateway) read(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	output, err := g.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return contractABI.Unpack(method, output)
}

func fromBig(v interface{}) decimal.Decimal {
	if b, ok := v.(*big.Int); ok {
		return decimal.NewFromBigInt(b, 0)
	}
	return decimal.Zero
}

var _ Gateway = (*EthGateway)(nil)
