package database

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func hasKeys(m map[string]string, keys ...string) (missingKeys []string) {
	for _, key := range keys {
		if _, exists := m[key]; !exists {
			missingKeys = append(missingKeys, key)
		}
	}
	return missingKeys
}

func Connect(dbConfig map[string]string) (*gorm.DB, error) {
	dbType, exists := dbConfig["type"]
	if !exists {
		return nil, fmt.Errorf("key 'type' not found in database config")
	}

	gormConfig := gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch dbType {

	case "postgres":

		if missingKeys := hasKeys(dbConfig,
			"host", "user", "password", "dbname", "port", "time_zone",
		); len(missingKeys) != 0 {
			return nil, fmt.Errorf("database config for type '%s' requires the keys %+v", dbType, missingKeys)
		}

		var dns string
		dns += "host=" + dbConfig["host"]
		dns += " user=" + dbConfig["user"]
		dns += " password=" + dbConfig["password"]
		dns += " dbname=" + dbConfig["dbname"]
		dns += " port=" + dbConfig["port"]
		dns += " TimeZone=" + dbConfig["time_zone"]
		if _, found := dbConfig["ssl"]; !found {
			dns += " sslmode=disable"
		}

		return gorm.Open(postgres.Open(dns), &gormConfig)

	case "sqlite":

		if missingKeys := hasKeys(dbConfig, "path"); len(missingKeys) != 0 {
			return nil, fmt.Errorf("database config for type '%s' requires the keys %+v", dbType, missingKeys)
		}

		return gorm.Open(sqlite.Open(dbConfig["path"]), &gormConfig)

	case "mysql":

		if missingKeys := hasKeys(dbConfig,
			"user", "password", "host", "port", "dbname",
		); len(missingKeys) != 0 {
			return nil, fmt.Errorf("database config for type '%s' requires the keys %+v", dbType, missingKeys)
		}

		dns := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbConfig["user"],
			dbConfig["password"],
			dbConfig["host"],
			dbConfig["port"],
			dbConfig["dbname"],
		)

		return gorm.Open(mysql.Open(dns), &gormConfig)
	}

	return nil, fmt.Errorf("database of type '%s' is not supported", dbType)
}
