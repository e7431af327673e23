package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"referral-system/models"
)

// memStore – память вместо Postgres с теми же атомарными переходами
// (условные инкременты, compare-and-set на processing)
type memStore struct {
	mu        sync.Mutex
	referrals map[string]*models.Referral
	accounts  map[string]*models.LedgerAccount
	products  map[string]*models.Product
	txs       map[string]*memTx
	txSeq     int

	// точечные сбои для проверки веток отказа
	failCreateTx   bool
	failCompleteTx bool
	failSettle     bool
}

type memTx struct {
	ID           string
	AccountID    string
	Amount       float64
	Status       string
	ProviderID   string
	Diagnostic   string
	ManualReview bool
}

func newMemStore() *memStore {
	return &memStore{
		referrals: make(map[string]*models.Referral),
		accounts:  make(map[string]*models.LedgerAccount),
		products:  make(map[string]*models.Product),
		txs:       make(map[string]*memTx),
	}
}

func (s *memStore) addAccount(a *models.LedgerAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *memStore) addReferral(r *models.Referral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrals[r.ID] = r
}

func (s *memStore) addProduct(p *models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *memStore) account(id string) models.LedgerAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[id]
}

func (s *memStore) referral(id string) models.Referral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.referrals[id]
}

func (s *memStore) transactions() []memTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memTx
	for _, tx := range s.txs {
		out = append(out, *tx)
	}
	return out
}

func (s *memStore) ClaimReferral(ctx context.Context, id string) (*models.ReferralClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrals[id]
	if !ok || r.Status != models.ReferralStatusApproved || r.Paid || r.Processing {
		return nil, nil
	}
	r.Processing = true
	productID := ""
	if r.ProductID != nil {
		productID = *r.ProductID
	}
	return &models.ReferralClaim{ID: r.ID, Code: r.Code, ProductID: productID}, nil
}

func (s *memStore) FinishReferral(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrals[id]
	if !ok {
		return fmt.Errorf("referral %s not found", id)
	}
	r.Status = models.ReferralStatusCompleted
	r.Paid = true
	r.Processing = false
	return nil
}

func (s *memStore) FailReferral(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.referrals[id]; ok {
		r.Status = models.ReferralStatusFailed
		r.Processing = false
	}
	return nil
}

func (s *memStore) GetReferral(ctx context.Context, id string) (*models.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrals[id]
	if !ok {
		return nil, fmt.Errorf("referral %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) EligibleReferrals(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, r := range s.referrals {
		if r.Status == models.ReferralStatusApproved && !r.Paid && !r.Processing &&
			r.TimeToPayout != nil && !r.TimeToPayout.After(now) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *memStore) RefundPaidReferral(ctx context.Context, referralID, accountID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrals[referralID]
	if !ok {
		return fmt.Errorf("referral %s not found", referralID)
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	r.Status = models.ReferralStatusRefunded
	a.PendingPayout -= amount
	a.AccumulatedPayout -= amount
	return nil
}

func (s *memStore) MarkReferralRefunded(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.referrals[id]; ok {
		r.Status = models.ReferralStatusRefunded
	}
	return nil
}

func (s *memStore) AccountByCode(ctx context.Context, code string) (*models.LedgerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Code == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("account with code %s not found", code)
}

func (s *memStore) AccountByUserID(ctx context.Context, userID string) (*models.LedgerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("account for user %s not found", userID)
}

func (s *memStore) CreditReferral(ctx context.Context, accountID string, pendingDelta, accumulatedDelta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s not found", accountID)
	}
	a.PendingPayout += pendingDelta
	a.AccumulatedPayout += accumulatedDelta
	return a.PendingPayout, nil
}

func (s *memStore) ClaimAccount(ctx context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, fmt.Errorf("account %s not found", accountID)
	}
	if a.Processing {
		return false, nil
	}
	a.Processing = true
	return true, nil
}

func (s *memStore) ReleaseAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[accountID]; ok {
		a.Processing = false
	}
	return nil
}

func (s *memStore) ClaimWithdrawal(ctx context.Context, accountID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s not found", accountID)
	}
	if a.Processing || a.PendingPayout < a.PayoutPerReferral {
		return 0, nil
	}
	claimed := a.PendingPayout
	a.Processing = true
	a.PendingPayout -= claimed
	return claimed, nil
}

func (s *memStore) RollbackWithdrawal(ctx context.Context, accountID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	a.PendingPayout += amount
	a.Processing = false
	return nil
}

func (s *memStore) SettleBalance(ctx context.Context, accountID string, amount float64) error {
	if s.failSettle {
		return errors.New("settle balance: connection reset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	a.PendingPayout -= amount
	a.AccumulatedPayout += amount
	a.Processing = false
	return nil
}

func (s *memStore) CreateTransaction(ctx context.Context, accountID string, amount float64) (string, error) {
	if s.failCreateTx {
		return "", errors.New("insert payout transaction: connection reset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txSeq++
	id := fmt.Sprintf("tx-%d", s.txSeq)
	s.txs[id] = &memTx{ID: id, AccountID: accountID, Amount: amount, Status: "pending"}
	return id, nil
}

func (s *memStore) CompleteTransaction(ctx context.Context, id, providerID string) error {
	if s.failCompleteTx {
		return errors.New("update payout transaction: connection reset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s not found", id)
	}
	tx.Status = "completed"
	tx.ProviderID = providerID
	return nil
}

func (s *memStore) FailTransaction(ctx context.Context, id, diagnostic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		tx.Status = "failed"
		tx.Diagnostic = diagnostic
	}
	return nil
}

func (s *memStore) FlagManualReview(ctx context.Context, id, diagnostic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		tx.ManualReview = true
		tx.Diagnostic = diagnostic
	}
	return nil
}

func (s *memStore) Product(ctx context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s not found", id)
	}
	cp := *p
	return &cp, nil
}

// fakeProvider считает вызовы; onSend даёт впрыснуть конкурентное
// начисление ровно в момент внешнего вызова
type fakeProvider struct {
	mu     sync.Mutex
	calls  []float64
	err    error
	onSend func()
}

func (p *fakeProvider) SendPayout(ctx context.Context, email string, amount float64, memo string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, amount)
	n := len(p.calls)
	p.mu.Unlock()
	if p.onSend != nil {
		p.onSend()
	}
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("prov-%d", n), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeAlerter struct {
	mu    sync.Mutex
	txIDs []string
}

func (a *fakeAlerter) ManualReview(txID, accountID string, amount float64, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txIDs = append(a.txIDs, txID)
}

func fixedAccount(id, userID, code string, rate float64) *models.LedgerAccount {
	return &models.LedgerAccount{
		ID: id, UserID: userID, Code: code,
		PayoutEmail: userID + "@example.com", PayoutPerReferral: rate,
	}
}

func ceilingAccount(id, userID, code string, percent, ceiling float64) *models.LedgerAccount {
	return &models.LedgerAccount{
		ID: id, UserID: userID, Code: code,
		PayoutEmail: userID + "@example.com", PayoutPerReferral: 5.00,
		PercentPerReferral: &percent, PayoutCeiling: &ceiling,
	}
}

func approvedReferral(id, code, productID string) *models.Referral {
	past := time.Now().Add(-time.Hour)
	r := &models.Referral{ID: id, Code: code, Status: models.ReferralStatusApproved, TimeToPayout: &past}
	if productID != "" {
		r.ProductID = &productID
	}
	return r
}

func TestProcessReferralFixedRate(t *testing.T) {
	store := newMemStore()
	store.addAccount(fixedAccount("acc-1", "user-1", "CODE1", 5.00))
	store.addReferral(approvedReferral("ref-1", "CODE1", ""))
	provider := &fakeProvider{}
	engine := NewEngine(store, provider, nil, nil)

	processed, err := engine.ProcessReferral(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("ProcessReferral: %v", err)
	}
	if !processed {
		t.Fatal("ожидали обработку реферала")
	}

	acc := store.account("acc-1")
	if acc.PendingPayout != 5.00 || acc.AccumulatedPayout != 5.00 {
		t.Errorf("балансы: pending=%.2f accumulated=%.2f, ожидали 5.00/5.00", acc.PendingPayout, acc.AccumulatedPayout)
	}
	ref := store.referral("ref-1")
	if ref.Status != models.ReferralStatusCompleted || !ref.Paid {
		t.Errorf("реферал: status=%s paid=%v, ожидали completed/true", ref.Status, ref.Paid)
	}
	// фиксированная ставка не трогает провайдера – деньги уходят при выводе
	if provider.callCount() != 0 {
		t.Errorf("провайдер вызван %d раз, ожидали 0", provider.callCount())
	}
}

func TestProcessReferralConcurrentNoDoubleCredit(t *testing.T) {
	store := newMemStore()
	store.addAccount(fixedAccount("acc-1", "user-1", "CODE1", 5.00))
	store.addReferral(approvedReferral("ref-1", "CODE1", ""))
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			processed, err := engine.ProcessReferral(context.Background(), "ref-1")
			if err != nil {
				t.Errorf("воркер %d: %v", i, err)
			}
			results[i] = processed
		}(i)
	}
	wg.Wait()

	var winners int
	for _, p := range results {
		if p {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("запись захвачена %d раз, ожидали ровно 1", winners)
	}
	acc := store.account("acc-1")
	if acc.PendingPayout != 5.00 {
		t.Errorf("pending=%.2f, двойное начисление", acc.PendingPayout)
	}
}

func TestProcessReferralUnknownCodeFailsLoud(t *testing.T) {
	store := newMemStore()
	store.addReferral(approvedReferral("ref-1", "GHOST", ""))
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	if _, err := engine.ProcessReferral(context.Background(), "ref-1"); err == nil {
		t.Fatal("ожидали ошибку целостности по несуществующему коду")
	}
	if got := store.referral("ref-1").Status; got != models.ReferralStatusFailed {
		t.Errorf("status=%s, ожидали failed", got)
	}
}

func TestCeilingAccountBatchesUntilThreshold(t *testing.T) {
	store := newMemStore()
	store.addAccount(ceilingAccount("acc-1", "blogger", "STAR1", 0.25, 100.00))
	store.addProduct(&models.Product{ID: "sub_lifetime", Price: 100.00})
	for i := 1; i <= 5; i++ {
		store.addReferral(approvedReferral(fmt.Sprintf("ref-%d", i), "STAR1", "sub_lifetime"))
	}
	provider := &fakeProvider{}
	engine := NewEngine(store, provider, nil, nil)

	// 25.00 за реферала, порог 100: три начисления копятся, четвёртое
	// выталкивает консолидированный перевод, пятое копится заново
	for i := 1; i <= 5; i++ {
		if _, err := engine.ProcessReferral(context.Background(), fmt.Sprintf("ref-%d", i)); err != nil {
			t.Fatalf("реферал %d: %v", i, err)
		}
	}

	if provider.callCount() != 1 {
		t.Fatalf("провайдер вызван %d раз, ожидали 1", provider.callCount())
	}
	if provider.calls[0] != 100.00 {
		t.Errorf("сумма перевода %.2f, ожидали 100.00", provider.calls[0])
	}
	acc := store.account("acc-1")
	if acc.PendingPayout != 25.00 {
		t.Errorf("pending=%.2f, ожидали 25.00 (пятое начисление)", acc.PendingPayout)
	}
	if acc.AccumulatedPayout != 100.00 {
		t.Errorf("accumulated=%.2f, ожидали 100.00", acc.AccumulatedPayout)
	}
	if acc.Processing {
		t.Error("аренда счёта не снята после выплаты")
	}
}

func TestCeilingPayoutProviderFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.addAccount(ceilingAccount("acc-1", "blogger", "STAR1", 0.30, 25.00))
	store.addProduct(&models.Product{ID: "sub_annual", Price: 100.00})
	store.addReferral(approvedReferral("ref-1", "STAR1", "sub_annual"))
	provider := &fakeProvider{err: errors.New("insufficient provider balance")}
	engine := NewEngine(store, provider, nil, nil)

	_, err := engine.ProcessReferral(context.Background(), "ref-1")
	if !errors.Is(err, ErrPayoutFailed) {
		t.Fatalf("ожидали ErrPayoutFailed, получили %v", err)
	}

	acc := store.account("acc-1")
	// начисление уже легло и остаётся – откатывается только аренда,
	// деньги не уходили
	if acc.PendingPayout != 30.00 {
		t.Errorf("pending=%.2f, ожидали 30.00", acc.PendingPayout)
	}
	if acc.Processing {
		t.Error("аренда счёта не снята после отказа провайдера")
	}
	txs := store.transactions()
	if len(txs) != 1 || txs[0].Status != "failed" {
		t.Errorf("журнал: %+v, ожидали одну failed-запись", txs)
	}
}

func TestWithdrawHappyPath(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 15.00
	acc.AccumulatedPayout = 15.00
	store.addAccount(acc)
	provider := &fakeProvider{}
	engine := NewEngine(store, provider, nil, nil)

	res, err := engine.Withdraw(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if res.Amount != 15.00 {
		t.Errorf("сумма вывода %.2f, ожидали 15.00", res.Amount)
	}

	got := store.account("acc-1")
	if got.PendingPayout != 0 {
		t.Errorf("pending=%.2f, ожидали 0", got.PendingPayout)
	}
	if got.AccumulatedPayout != 15.00 {
		t.Errorf("accumulated=%.2f, вывод не должен менять накопленное", got.AccumulatedPayout)
	}
	if got.Processing {
		t.Error("аренда не снята")
	}
	txs := store.transactions()
	if len(txs) != 1 || txs[0].Status != "completed" || txs[0].ProviderID == "" {
		t.Errorf("журнал: %+v, ожидали completed с provider_id", txs)
	}
}

func TestWithdrawBelowMinimum(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 4.99
	store.addAccount(acc)
	provider := &fakeProvider{}
	engine := NewEngine(store, provider, nil, nil)

	_, err := engine.Withdraw(context.Background(), "user-1")
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("ожидали ErrBelowMinimum, получили %v", err)
	}
	if provider.callCount() != 0 {
		t.Error("провайдер вызван при балансе ниже минимума")
	}
	if store.account("acc-1").PendingPayout != 4.99 {
		t.Error("баланс изменился при отклонённом выводе")
	}
}

func TestWithdrawNoAccount(t *testing.T) {
	engine := NewEngine(newMemStore(), &fakeProvider{}, nil, nil)
	if _, err := engine.Withdraw(context.Background(), "ghost"); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("ожидали ErrNoAccount, получили %v", err)
	}
}

func TestWithdrawClaimConflict(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 20.00
	acc.Processing = true // аренда у параллельной выплаты
	store.addAccount(acc)
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	if _, err := engine.Withdraw(context.Background(), "user-1"); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("ожидали ErrClaimConflict, получили %v", err)
	}
}

func TestWithdrawProviderFailureRestoresExactAmount(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 20.00
	store.addAccount(acc)

	provider := &fakeProvider{err: errors.New("gateway timeout")}
	// конкурентное начисление ровно во время внешнего вызова
	provider.onSend = func() {
		if _, err := store.CreditReferral(context.Background(), "acc-1", 5.00, 5.00); err != nil {
			t.Errorf("конкурентное начисление: %v", err)
		}
	}
	engine := NewEngine(store, provider, nil, nil)

	_, err := engine.Withdraw(context.Background(), "user-1")
	if !errors.Is(err, ErrPayoutFailed) {
		t.Fatalf("ожидали ErrPayoutFailed, получили %v", err)
	}

	// откат возвращает ровно снятые 20, начисленные во время вызова 5 целы
	got := store.account("acc-1")
	if got.PendingPayout != 25.00 {
		t.Errorf("pending=%.2f, ожидали 25.00 (20 отката + 5 конкурентных)", got.PendingPayout)
	}
	if got.Processing {
		t.Error("аренда не снята после отката")
	}
}

func TestWithdrawConcurrentCreditSurvivesSuccess(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 20.00
	store.addAccount(acc)

	provider := &fakeProvider{}
	provider.onSend = func() {
		if _, err := store.CreditReferral(context.Background(), "acc-1", 5.00, 5.00); err != nil {
			t.Errorf("конкурентное начисление: %v", err)
		}
	}
	engine := NewEngine(store, provider, nil, nil)

	res, err := engine.Withdraw(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if res.Amount != 20.00 {
		t.Errorf("сумма вывода %.2f, ожидали снимок 20.00", res.Amount)
	}
	if got := store.account("acc-1").PendingPayout; got != 5.00 {
		t.Errorf("pending=%.2f, конкурентное начисление потеряно", got)
	}
}

func TestWithdrawFinalizationFailureNeverRollsBack(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 20.00
	store.addAccount(acc)
	provider := &fakeProvider{}
	alerter := &fakeAlerter{}
	engine := NewEngine(store, provider, alerter, nil)
	store.failCompleteTx = true

	_, err := engine.Withdraw(context.Background(), "user-1")
	if !errors.Is(err, ErrReconciliation) {
		t.Fatalf("ожидали ErrReconciliation, получили %v", err)
	}

	// деньги ушли – снятая сумма НЕ возвращается на баланс
	got := store.account("acc-1")
	if got.PendingPayout != 0 {
		t.Errorf("pending=%.2f, запрещённый откат после успеха провайдера", got.PendingPayout)
	}
	txs := store.transactions()
	if len(txs) != 1 || !txs[0].ManualReview || txs[0].Status != "pending" {
		t.Errorf("журнал: %+v, ожидали pending с флагом ручной сверки", txs)
	}
	if len(alerter.txIDs) != 1 {
		t.Errorf("оператор оповещён %d раз, ожидали 1", len(alerter.txIDs))
	}
}

func TestWithdrawCreateTxFailureRollsBack(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "user-1", "CODE1", 5.00)
	acc.PendingPayout = 20.00
	store.addAccount(acc)
	provider := &fakeProvider{}
	engine := NewEngine(store, provider, nil, nil)
	store.failCreateTx = true

	if _, err := engine.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("ожидали ошибку журнальной записи")
	}
	if provider.callCount() != 0 {
		t.Error("провайдер вызван без журнальной записи")
	}
	got := store.account("acc-1")
	if got.PendingPayout != 20.00 || got.Processing {
		t.Errorf("откат до провайдера: pending=%.2f processing=%v", got.PendingPayout, got.Processing)
	}
}

func TestCeilingFinalizationFailureFlagsManualReview(t *testing.T) {
	store := newMemStore()
	store.addAccount(ceilingAccount("acc-1", "blogger", "STAR1", 0.30, 25.00))
	store.addProduct(&models.Product{ID: "sub_annual", Price: 100.00})
	store.addReferral(approvedReferral("ref-1", "STAR1", "sub_annual"))
	provider := &fakeProvider{}
	alerter := &fakeAlerter{}
	engine := NewEngine(store, provider, alerter, nil)
	store.failSettle = true

	_, err := engine.ProcessReferral(context.Background(), "ref-1")
	if !errors.Is(err, ErrReconciliation) {
		t.Fatalf("ожидали ErrReconciliation, получили %v", err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("провайдер вызван %d раз", provider.callCount())
	}
	txs := store.transactions()
	if len(txs) != 1 || !txs[0].ManualReview {
		t.Errorf("журнал: %+v, ожидали флаг ручной сверки", txs)
	}
	if len(alerter.txIDs) != 1 {
		t.Errorf("оператор оповещён %d раз, ожидали 1", len(alerter.txIDs))
	}
}

func TestHandleRefundPaidReferralDebitsBothBalances(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "owner", "CODE1", 5.00)
	acc.PendingPayout = 0 // уже выведено
	acc.AccumulatedPayout = 20.00
	store.addAccount(acc)
	ref := approvedReferral("ref-1", "CODE1", "")
	ref.Status = models.ReferralStatusCompleted
	ref.Paid = true
	store.addReferral(ref)
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	if err := engine.HandleRefund(context.Background(), "ref-1"); err != nil {
		t.Fatalf("HandleRefund: %v", err)
	}

	got := store.account("acc-1")
	if got.AccumulatedPayout != 15.00 {
		t.Errorf("accumulated=%.2f, ожидали 15.00", got.AccumulatedPayout)
	}
	// выведенные деньги не вернуть – баланс уходит в минус, это долг
	if got.PendingPayout != -5.00 {
		t.Errorf("pending=%.2f, ожидали -5.00", got.PendingPayout)
	}
	if store.referral("ref-1").Status != models.ReferralStatusRefunded {
		t.Error("реферал не помечен refunded")
	}

	// следующее начисление гасит долг
	if _, err := store.CreditReferral(context.Background(), "acc-1", 5.00, 5.00); err != nil {
		t.Fatalf("CreditReferral: %v", err)
	}
	if got := store.account("acc-1").PendingPayout; got != 0 {
		t.Errorf("pending=%.2f после гашения долга, ожидали 0", got)
	}
}

func TestHandleRefundCeilingRecomputesFromProduct(t *testing.T) {
	store := newMemStore()
	acc := ceilingAccount("acc-1", "blogger", "STAR1", 0.30, 500.00)
	acc.PendingPayout = 90.00
	store.addAccount(acc)
	store.addProduct(&models.Product{ID: "sub_annual", Price: 59.99})
	ref := approvedReferral("ref-1", "STAR1", "sub_annual")
	ref.Status = models.ReferralStatusCompleted
	ref.Paid = true
	store.addReferral(ref)
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	if err := engine.HandleRefund(context.Background(), "ref-1"); err != nil {
		t.Fatalf("HandleRefund: %v", err)
	}
	// 59.99 * 0.30 = 18.00 после округления до цента
	if got := store.account("acc-1").PendingPayout; got != 72.00 {
		t.Errorf("pending=%.2f, ожидали 72.00", got)
	}
}

func TestHandleRefundUnpaidReferralNoBalanceChange(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "owner", "CODE1", 5.00)
	acc.PendingPayout = 10.00
	acc.AccumulatedPayout = 10.00
	store.addAccount(acc)
	store.addReferral(&models.Referral{ID: "ref-1", Code: "CODE1", Status: models.ReferralStatusPending})
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	if err := engine.HandleRefund(context.Background(), "ref-1"); err != nil {
		t.Fatalf("HandleRefund: %v", err)
	}
	got := store.account("acc-1")
	if got.PendingPayout != 10.00 || got.AccumulatedPayout != 10.00 {
		t.Errorf("балансы изменились при возврате неоплаченного реферала: %+v", got)
	}
	if store.referral("ref-1").Status != models.ReferralStatusRefunded {
		t.Error("реферал не помечен refunded")
	}
}

func TestHandleRefundIdempotent(t *testing.T) {
	store := newMemStore()
	acc := fixedAccount("acc-1", "owner", "CODE1", 5.00)
	acc.AccumulatedPayout = 20.00
	store.addAccount(acc)
	ref := approvedReferral("ref-1", "CODE1", "")
	ref.Status = models.ReferralStatusCompleted
	ref.Paid = true
	store.addReferral(ref)
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	if err := engine.HandleRefund(context.Background(), "ref-1"); err != nil {
		t.Fatalf("первый возврат: %v", err)
	}
	if err := engine.HandleRefund(context.Background(), "ref-1"); err != nil {
		t.Fatalf("повторный возврат: %v", err)
	}
	// дебет ровно один
	if got := store.account("acc-1").AccumulatedPayout; got != 15.00 {
		t.Errorf("accumulated=%.2f, двойное списание", got)
	}
}

func TestRunSweepContinuesPastFailures(t *testing.T) {
	store := newMemStore()
	store.addAccount(fixedAccount("acc-1", "user-1", "CODE1", 5.00))
	store.addReferral(approvedReferral("ref-ok", "CODE1", ""))
	store.addReferral(approvedReferral("ref-bad", "GHOST", "")) // код без счёта
	future := time.Now().Add(24 * time.Hour)
	store.addReferral(&models.Referral{ID: "ref-young", Code: "CODE1", Status: models.ReferralStatusApproved, TimeToPayout: &future})
	engine := NewEngine(store, &fakeProvider{}, nil, nil)

	stats := engine.RunSweep(context.Background())
	if stats.Eligible != 2 {
		t.Errorf("eligible=%d, незрелый реферал попал в выборку", stats.Eligible)
	}
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats=%+v, ожидали 1 completed и 1 failed", stats)
	}
	if got := store.referral("ref-ok").Status; got != models.ReferralStatusCompleted {
		t.Errorf("здоровый реферал не обработан: %s", got)
	}
}
