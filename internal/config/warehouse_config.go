package config

// WarehouseConfig identifies the Snowflake account this console administers.
// The bearer token is not configuration; it comes from the OAuth session.
type WarehouseConfig interface {
	GetAccount() string
	GetWarehouseUser() string
	GetWarehouse() string
	GetWarehouseRole() string
}

type Warehouse struct{}

var _ WarehouseConfig = Warehouse{}

func (Warehouse) GetAccount() string {
	return GetEnv("SNOWFLAKE_ACCOUNT", "")
}

func (Warehouse) GetWarehouseUser() string {
	return GetEnv("SNOWFLAKE_USER", "")
}

func (Warehouse) GetWarehouse() string {
	return GetEnv("SNOWFLAKE_WAREHOUSE", "")
}

func (Warehouse) GetWarehouseRole() string {
	return GetEnv("SNOWFLAKE_ROLE", "")
}
