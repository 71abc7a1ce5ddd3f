// Command devnode is a stand-in Octra node and captcha provider for running
// the faucet locally. Point RPC_URLS and CAPTCHA_VERIFY_URL at it.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"sync"

	"github.com/aman-churiwal/octra-faucet/internal/transaction"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type account struct {
	balance decimal.Decimal
	nonce   uint64
}

type ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	logger   *zap.Logger
}

// get must be called with mu held. Unknown addresses start with 1M tokens.
func (l *ledger) get(addr string) *account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = &account{balance: decimal.NewFromInt(1_000_000)}
		l.accounts[addr] = acc
	}
	return acc
}

func (l *ledger) address(c *gin.Context) {
	l.mu.Lock()
	acc := l.get(c.Param("addr"))
	balance, nonce := acc.balance, acc.nonce
	l.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"address": c.Param("addr"),
		"balance": balance.String(),
		"nonce":   nonce,
	})
}

func (l *ledger) sendTx(c *gin.Context) {
	var tx transaction.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "error": "malformed transaction"})
		return
	}
	if err := transaction.Verify(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "error": err.Error()})
		return
	}

	micro, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "error": "bad amount"})
		return
	}
	amount := micro.Shift(-6)

	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.get(tx.From)
	if tx.Nonce != from.nonce+1 {
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "error": "invalid nonce"})
		return
	}
	if from.balance.LessThan(amount) {
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "error": "insufficient balance"})
		return
	}

	from.nonce = tx.Nonce
	from.balance = from.balance.Sub(amount)
	to := l.get(tx.To)
	to.balance = to.balance.Add(amount)

	msg, _ := tx.CanonicalMessage()
	sum := sha256.Sum256(msg)
	hash := hex.EncodeToString(sum[:])

	l.logger.Info("accepted transaction",
		zap.String("from", tx.From),
		zap.String("to", tx.To),
		zap.String("amount", amount.String()),
		zap.Uint64("nonce", tx.Nonce),
		zap.String("hash", hash))

	c.JSON(http.StatusOK, gin.H{"status": "accepted", "tx_hash": hash})
}

// siteverify accepts every token except "fail".
func siteverify(c *gin.Context) {
	token := c.PostForm("response")
	c.JSON(http.StatusOK, gin.H{"success": token != "" && token != "fail"})
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	addr := os.Getenv("DEVNODE_ADDR")
	if addr == "" {
		addr = ":3001"
	}

	l := &ledger{accounts: make(map[string]*account), logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/address/:addr", l.address)
	r.POST("/send-tx", l.sendTx)
	r.POST("/siteverify", siteverify)

	logger.Info("devnode starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("devnode stopped", zap.Error(err))
	}
}
