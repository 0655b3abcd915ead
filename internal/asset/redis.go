package asset

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

// maxRedisAmount keeps amounts exactly representable as Lua numbers.
const maxRedisAmount domain.Amount = 1 << 53

const (
	errReplyBalance   = "INSUFFICIENT_BALANCE"
	errReplyAllowance = "INSUFFICIENT_ALLOWANCE"
)

// KEYS[1]=balances ARGV: from, to, amount
var transferScript = redis.NewScript(`
local bal = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
local amt = tonumber(ARGV[3])
if bal < amt then
  return redis.error_reply("INSUFFICIENT_BALANCE")
end
redis.call("HINCRBY", KEYS[1], ARGV[1], "-" .. ARGV[3])
redis.call("HINCRBY", KEYS[1], ARGV[2], ARGV[3])
return 1
`)

// KEYS[1]=balances KEYS[2]=allowances ARGV: spender, from, to, amount
var transferFromScript = redis.NewScript(`
local field = ARGV[2] .. "|" .. ARGV[1]
local allowed = tonumber(redis.call("HGET", KEYS[2], field) or "0")
local amt = tonumber(ARGV[4])
if allowed < amt then
  return redis.error_reply("INSUFFICIENT_ALLOWANCE")
end
local bal = tonumber(redis.call("HGET", KEYS[1], ARGV[2]) or "0")
if bal < amt then
  return redis.error_reply("INSUFFICIENT_BALANCE")
end
redis.call("HINCRBY", KEYS[2], field, "-" .. ARGV[4])
redis.call("HINCRBY", KEYS[1], ARGV[2], "-" .. ARGV[4])
redis.call("HINCRBY", KEYS[1], ARGV[3], ARGV[4])
return 1
`)

// KEYS[1]=balances ARGV: from, to1, amt1, to2, amt2, ...
var batchScript = redis.NewScript(`
local total = 0
for i = 2, #ARGV, 2 do
  total = total + tonumber(ARGV[i + 1])
end
local bal = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
if bal < total then
  return redis.error_reply("INSUFFICIENT_BALANCE")
end
for i = 2, #ARGV, 2 do
  redis.call("HINCRBY", KEYS[1], ARGV[1], "-" .. ARGV[i + 1])
  redis.call("HINCRBY", KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// KEYS[1]=balances KEYS[2]=supply ARGV: to, amount
var mintScript = redis.NewScript(`
redis.call("INCRBY", KEYS[2], ARGV[2])
redis.call("HINCRBY", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// KEYS[1]=balances KEYS[2]=supply KEYS[3]=seeded ARGV: owner, amount
var seedScript = redis.NewScript(`
if redis.call("SETNX", KEYS[3], "1") == 0 then
  return 0
end
redis.call("INCRBY", KEYS[2], ARGV[2])
redis.call("HINCRBY", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisLedger keeps balances in Redis hashes and moves funds with Lua scripts
// so every check-and-move is atomic on the server. Scripts receive amounts as
// decimal strings and are never called with zero, which HINCRBY would reject
// once negated.
type RedisLedger struct {
	client redis.Cmdable
	owner  domain.Address
	prefix string
	cfg    config
}

// NewRedisLedger returns a ledger under prefix. Call Seed once to mint the
// initial supply to owner.
func NewRedisLedger(client redis.Cmdable, prefix string, owner domain.Address, opts ...Option) *RedisLedger {
	l := &RedisLedger{client: client, owner: owner, prefix: prefix}
	for _, opt := range opts {
		opt(&l.cfg)
	}
	return l
}

func (l *RedisLedger) balancesKey() string   { return l.prefix + ":balances" }
func (l *RedisLedger) allowancesKey() string { return l.prefix + ":allowances" }
func (l *RedisLedger) supplyKey() string     { return l.prefix + ":supply" }
func (l *RedisLedger) seededKey() string     { return l.prefix + ":seeded" }

func (l *RedisLedger) Symbol() string { return Symbol }
func (l *RedisLedger) Decimals() int  { return Decimals }

// Seed mints InitialSupply to the owner the first time it runs against a
// prefix and reports whether it did.
func (l *RedisLedger) Seed(ctx context.Context) (bool, error) {
	n, err := seedScript.Run(ctx, l.client,
		[]string{l.balancesKey(), l.supplyKey(), l.seededKey()},
		l.owner.String(), int64(InitialSupply),
	).Int()
	if err != nil {
		return false, l.translate(err, "", "")
	}
	return n == 1, nil
}

func (l *RedisLedger) TotalSupply(ctx context.Context) (domain.Amount, error) {
	return l.readInt(ctx, l.client.Get(ctx, l.supplyKey()))
}

func (l *RedisLedger) BalanceOf(ctx context.Context, account domain.Address) (domain.Amount, error) {
	return l.readInt(ctx, l.client.HGet(ctx, l.balancesKey(), account.String()))
}

func (l *RedisLedger) Allowance(ctx context.Context, owner, spender domain.Address) (domain.Amount, error) {
	return l.readInt(ctx, l.client.HGet(ctx, l.allowancesKey(), owner.String()+"|"+spender.String()))
}

func (l *RedisLedger) Approve(ctx context.Context, owner, spender domain.Address, amount domain.Amount) error {
	if err := l.validate(spender, amount); err != nil {
		return err
	}
	field := owner.String() + "|" + spender.String()
	if err := l.client.HSet(ctx, l.allowancesKey(), field, int64(amount)).Err(); err != nil {
		return l.translate(err, owner, spender)
	}
	return nil
}

func (l *RedisLedger) Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error {
	if err := l.validate(to, amount); err != nil {
		return err
	}
	if amount == 0 {
		l.notify(ctx, from, to, amount)
		return nil
	}
	err := transferScript.Run(ctx, l.client, []string{l.balancesKey()},
		from.String(), to.String(), int64(amount)).Err()
	if err != nil {
		return l.translate(err, from, "")
	}
	l.notify(ctx, from, to, amount)
	return nil
}

func (l *RedisLedger) TransferFrom(ctx context.Context, spender, from, to domain.Address, amount domain.Amount) error {
	if err := l.validate(to, amount); err != nil {
		return err
	}
	if amount == 0 {
		l.notify(ctx, from, to, amount)
		return nil
	}
	err := transferFromScript.Run(ctx, l.client, []string{l.balancesKey(), l.allowancesKey()},
		spender.String(), from.String(), to.String(), int64(amount)).Err()
	if err != nil {
		return l.translate(err, from, spender)
	}
	l.notify(ctx, from, to, amount)
	return nil
}

func (l *RedisLedger) TransferBatch(ctx context.Context, from domain.Address, payouts []Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	args := make([]any, 0, 1+2*len(payouts))
	args = append(args, from.String())
	var total domain.Amount
	for _, p := range payouts {
		if err := l.validate(p.To, p.Amount); err != nil {
			return err
		}
		total += p.Amount
		if total > maxRedisAmount {
			return insufficientBalance(from)
		}
		if p.Amount > 0 {
			args = append(args, p.To.String(), int64(p.Amount))
		}
	}
	if len(args) == 1 {
		return nil
	}
	if err := batchScript.Run(ctx, l.client, []string{l.balancesKey()}, args...).Err(); err != nil {
		return l.translate(err, from, "")
	}
	for _, p := range payouts {
		l.notify(ctx, from, p.To, p.Amount)
	}
	return nil
}

func (l *RedisLedger) Mint(ctx context.Context, caller, to domain.Address, amount domain.Amount) error {
	if caller != l.owner {
		return notOwner(caller)
	}
	if err := l.validate(to, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	return l.mint(ctx, to, amount)
}

func (l *RedisLedger) Faucet(ctx context.Context, caller domain.Address, amount domain.Amount) error {
	if err := validateFaucet(caller, amount); err != nil {
		return err
	}
	return l.mint(ctx, caller, amount)
}

func (l *RedisLedger) mint(ctx context.Context, to domain.Address, amount domain.Amount) error {
	err := mintScript.Run(ctx, l.client, []string{l.balancesKey(), l.supplyKey()},
		to.String(), int64(amount)).Err()
	if err != nil {
		return l.translate(err, "", "")
	}
	return nil
}

func (l *RedisLedger) validate(to domain.Address, amount domain.Amount) error {
	if err := validateTransfer(to, amount); err != nil {
		return err
	}
	if amount > maxRedisAmount {
		return dErrors.New(dErrors.CodeValidation, "amount exceeds ledger precision")
	}
	return nil
}

func (l *RedisLedger) readInt(_ context.Context, cmd *redis.StringCmd) (domain.Amount, error) {
	s, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "ledger read failed")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("ledger value %q is not an integer", s))
	}
	return domain.Amount(v), nil
}

func (l *RedisLedger) translate(err error, owner, spender domain.Address) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, errReplyBalance):
		return insufficientBalance(owner)
	case strings.Contains(msg, errReplyAllowance):
		return insufficientAllowance(owner, spender)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger write failed")
	}
}

func (l *RedisLedger) notify(ctx context.Context, from, to domain.Address, amount domain.Amount) {
	if l.cfg.hook != nil {
		l.cfg.hook(ctx, from, to, amount)
	}
}
