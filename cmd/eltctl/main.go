// Package main 提供运维命令行工具 eltctl：校验配置、触发导入、查询运行、导入配置与清理
package main

import (
	"fmt"
	"os"

	"elt-service/service/config"
	"elt-service/service/database"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "eltctl",
	Short: "ELT 管道编排运维工具",
	Long:  "eltctl 直接访问配置库完成配置校验、导入、运行查询与清理，手动触发通过服务 HTTP 接口完成。",
}

var (
	databaseURL string
	migrate     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "db-url", "", "数据库连接串（默认读取 DATABASE_URL 或 DB_* 环境变量）")
	rootCmd.PersistentFlags().BoolVar(&migrate, "migrate", false, "执行前先迁移表结构")
}

func openDB() (*gorm.DB, error) {
	dsn := databaseURL
	if dsn == "" {
		dsn = config.DatabaseDSN()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	if migrate {
		if err := database.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	return db, nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
