package database

import (
	"context"
	"fmt"
	"log"
	"referral-system/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Pool *pgxpool.Pool

func InitDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var err error
	Pool, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := Pool.Ping(context.Background()); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}

	log.Println("✅ Подключение к PostgreSQL установлено")
	if err := createUsersTable(); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	if err := createProductsTable(); err != nil {
		return fmt.Errorf("failed to create products table: %w", err)
	}
	if err := createLedgerAccountsTable(); err != nil {
		return fmt.Errorf("failed to create ledger_accounts table: %w", err)
	}
	if err := createReferralsTable(); err != nil {
		return fmt.Errorf("failed to create referrals table: %w", err)
	}
	if err := createPayoutTransactionsTable(); err != nil {
		return fmt.Errorf("failed to create payout_transactions table: %w", err)
	}
	return nil
}

func CloseDB() {
	if Pool != nil {
		Pool.Close()
		log.Println("🛑 Соединение с PostgreSQL закрыто")
	}
}

func createUsersTable() error {
	// pgcrypto для gen_random_uuid()
	_, err := Pool.Exec(context.Background(), `CREATE EXTENSION IF NOT EXISTS "pgcrypto";`)
	if err != nil {
		return err
	}

	_, err = Pool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            email VARCHAR(255) UNIQUE NOT NULL,
            password_hash VARCHAR(255) NOT NULL,
            name VARCHAR(100),
            role VARCHAR(20) DEFAULT 'user',
            created_at TIMESTAMP DEFAULT NOW(),
            updated_at TIMESTAMP DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	_, err = Pool.Exec(context.Background(), `CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`)
	if err != nil {
		return err
	}

	log.Println("✅ Таблица users готова")
	return nil
}

// createProductsTable создаёт каталог продуктов (планов подписки)
// Цена нужна движку выплат: процентные аккаунты и перерасчёт при возврате
func createProductsTable() error {
	_, err := Pool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS products (
            id VARCHAR(100) PRIMARY KEY,
            name VARCHAR(100) NOT NULL,
            price DECIMAL(10,2) NOT NULL,
            currency VARCHAR(3) DEFAULT 'USD',
            is_active BOOLEAN DEFAULT true,
            created_at TIMESTAMP DEFAULT NOW(),
            updated_at TIMESTAMP DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	// Добавляем базовые продукты, если таблица пуста
	var count int
	err = Pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM products`).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		_, err = Pool.Exec(context.Background(), `
            INSERT INTO products (id, name, price) VALUES
            ('sub_monthly', 'Месячная подписка', 9.99),
            ('sub_annual', 'Годовая подписка', 59.99),
            ('sub_lifetime', 'Пожизненный доступ', 149.99);
        `)
		if err != nil {
			return err
		}
		log.Println("✅ Базовые продукты добавлены")
	}

	log.Println("✅ Таблица products готова")
	return nil
}

// createLedgerAccountsTable создаёт счета реферальной программы
// processing – флаг эксклюзивной аренды на время выплаты (см. settlement)
func createLedgerAccountsTable() error {
	_, err := Pool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS ledger_accounts (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID UNIQUE NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            code VARCHAR(32) UNIQUE NOT NULL,
            payout_email VARCHAR(255) NOT NULL,
            pending_payout DECIMAL(10,2) NOT NULL DEFAULT 0,
            accumulated_payout DECIMAL(10,2) NOT NULL DEFAULT 0,
            payout_per_referral DECIMAL(10,2) NOT NULL,
            percent_per_referral DECIMAL(5,4),
            payout_ceiling DECIMAL(10,2),
            processing BOOLEAN NOT NULL DEFAULT false,
            created_at TIMESTAMP DEFAULT NOW(),
            updated_at TIMESTAMP DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	_, err = Pool.Exec(context.Background(), `
        CREATE INDEX IF NOT EXISTS idx_ledger_accounts_user_id ON ledger_accounts(user_id);
        CREATE INDEX IF NOT EXISTS idx_ledger_accounts_code ON ledger_accounts(code);
    `)
	if err != nil {
		return err
	}

	log.Println("✅ Таблица ledger_accounts готова")
	return nil
}

// createReferralsTable создаёт записи жизненного цикла рефералов
// id = id приглашённого пользователя (один реферал на пользователя)
func createReferralsTable() error {
	_, err := Pool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS referrals (
            id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
            code VARCHAR(32) NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'pending',
            paid BOOLEAN NOT NULL DEFAULT false,
            processing BOOLEAN NOT NULL DEFAULT false,
            time_to_payout TIMESTAMP,
            product_id VARCHAR(100),
            created_at TIMESTAMP DEFAULT NOW(),
            updated_at TIMESTAMP DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	// Индекс под выборку зрелых рефералов в фоновом обходе
	_, err = Pool.Exec(context.Background(), `
        CREATE INDEX IF NOT EXISTS idx_referrals_code ON referrals(code);
        CREATE INDEX IF NOT EXISTS idx_referrals_eligible ON referrals(status, paid, processing, time_to_payout);
    `)
	if err != nil {
		return err
	}

	log.Println("✅ Таблица referrals готова")
	return nil
}

// createPayoutTransactionsTable создаёт журнал попыток внешних выплат
// Записи никогда не удаляются – это аудиторский след для сверки с провайдером
func createPayoutTransactionsTable() error {
	_, err := Pool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS payout_transactions (
            id UUID PRIMARY KEY,
            referrer UUID NOT NULL REFERENCES ledger_accounts(id),
            payout DECIMAL(10,2) NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'pending',
            manual_review_required BOOLEAN NOT NULL DEFAULT false,
            provider_id VARCHAR(100),
            error TEXT,
            created_at TIMESTAMP DEFAULT NOW(),
            updated_at TIMESTAMP DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	_, err = Pool.Exec(context.Background(), `
        CREATE INDEX IF NOT EXISTS idx_payout_transactions_referrer ON payout_transactions(referrer);
        CREATE INDEX IF NOT EXISTS idx_payout_transactions_review ON payout_transactions(manual_review_required) WHERE manual_review_required;
    `)
	if err != nil {
		return err
	}

	log.Println("✅ Таблица payout_transactions готова")
	return nil
}
