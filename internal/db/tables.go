package db

import (
	"os"
	"strings"
)

func TenantDataTableName() string {
	return strings.TrimSpace(os.Getenv("TENANT_DATA_TABLE"))
}

func ShopToUserTableName() string {
	return strings.TrimSpace(os.Getenv("SHOP_TO_USER_TABLE"))
}

// ShopToUserIndexName is the GSI on SHOP_TO_USER_TABLE keyed by UserSub.
func ShopToUserIndexName() string {
	if v := strings.TrimSpace(os.Getenv("SHOP_TO_USER_GSI_USERSUB")); v != "" {
		return v
	}
	return "GSI_UserSub"
}
