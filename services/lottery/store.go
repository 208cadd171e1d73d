package lottery

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
)

// Storage namespaces. Each is distinct so records never collide.
const (
	NamespaceConfig       = "config"
	NamespaceCurrentRound = "current_round"
	NamespaceRoundHistory = "round_history"
	NamespaceContractInfo = "contract_info"
)

var (
	configItem   = storage.NewItem[Config](NamespaceConfig)
	roundItem    = storage.NewItem[Round](NamespaceCurrentRound)
	infoItem     = storage.NewItem[ContractInfo](NamespaceContractInfo)
	historyTable = storage.NewMap[RoundWinners](NamespaceRoundHistory)
)

func loadConfig(ctx context.Context, kv storage.KV) (Config, error) {
	cfg, err := configItem.Load(ctx, kv)
	if errors.Is(err, storage.ErrNotFound) {
		return Config{}, ErrNotInitialized
	}
	return cfg, err
}

func loadRound(ctx context.Context, kv storage.KV) (Round, error) {
	round, err := roundItem.Load(ctx, kv)
	if errors.Is(err, storage.ErrNotFound) {
		return Round{}, ErrNotInitialized
	}
	return round, err
}

func saveRound(ctx context.Context, kv storage.KV, round Round) error {
	if round.Participants == nil {
		round.Participants = []string{}
	}
	return roundItem.Save(ctx, kv, round)
}

func loadWinners(ctx context.Context, kv storage.KV, roundID uint64) (RoundWinners, error) {
	w, err := historyTable.Load(ctx, kv, storage.U64Key(roundID))
	if errors.Is(err, storage.ErrNotFound) {
		return RoundWinners{}, fmt.Errorf("%w: %d", ErrRoundNotFound, roundID)
	}
	return w, err
}

// appendWinners writes the winners of roundID. History is append-only.
func appendWinners(ctx context.Context, kv storage.KV, roundID uint64, w RoundWinners) error {
	exists, err := historyTable.Has(ctx, kv, storage.U64Key(roundID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", ErrHistoryExists, roundID)
	}
	return historyTable.Save(ctx, kv, storage.U64Key(roundID), w)
}

func listWinners(ctx context.Context, kv storage.KV, startAfter *uint64, limit int) ([]HistoryEntry, error) {
	var after []byte
	if startAfter != nil {
		after = storage.U64Key(*startAfter)
	}
	out := make([]HistoryEntry, 0, limit)
	err := historyTable.Range(ctx, kv, after, func(k []byte, w RoundWinners) error {
		id, err := storage.ParseU64Key(k)
		if err != nil {
			return err
		}
		out = append(out, HistoryEntry{RoundID: id, Winners: w.Winners})
		if len(out) >= limit {
			return storage.ErrStopIteration
		}
		return nil
	})
	return out, err
}
