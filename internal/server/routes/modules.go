package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/fintrack/cachehub/internal/server"
	"github.com/fintrack/cachehub/internal/swmodule"
)

// RegisterModuleRoutes 暴露 /-/modules 诊断接口，供 SRE 查询 worker profile 与站点绑定关系。
func RegisterModuleRoutes(app *fiber.App, registry *server.SiteRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/modules", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"modules": encodeModules(swmodule.List()),
			"sites":   encodeSiteBindings(registry.List()),
		}
		return c.JSON(payload)
	})

	app.Get("/-/modules/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "module_key_required"})
		}
		meta, ok := swmodule.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "module_not_found"})
		}
		return c.JSON(encodeModule(meta))
	})
}

type modulePayload struct {
	Key             string                  `json:"key"`
	Description     string                  `json:"description"`
	MigrationState  swmodule.MigrationState `json:"migration_state"`
	Partitions      []string                `json:"partitions"`
	DefaultManifest []string                `json:"default_manifest"`
	Defaults        defaultsPayload         `json:"defaults"`
}

type defaultsPayload struct {
	CachePrefix   string `json:"cache_prefix"`
	Version       string `json:"version"`
	APIPrefix     string `json:"api_prefix,omitempty"`
	DashboardPath string `json:"dashboard_path,omitempty"`
}

type siteBindingPayload struct {
	SiteName  string `json:"site_name"`
	ModuleKey string `json:"module_key"`
	Domain    string `json:"domain"`
	Port      int    `json:"port"`
	Legacy    bool   `json:"legacy_only"`
}

func encodeModules(mods []swmodule.ModuleMetadata) []modulePayload {
	if len(mods) == 0 {
		return nil
	}
	sort.Slice(mods, func(i, j int) bool {
		return mods[i].Key < mods[j].Key
	})
	result := make([]modulePayload, 0, len(mods))
	for _, meta := range mods {
		result = append(result, encodeModule(meta))
	}
	return result
}

func encodeModule(meta swmodule.ModuleMetadata) modulePayload {
	return modulePayload{
		Key:             meta.Key,
		Description:     meta.Description,
		MigrationState:  meta.MigrationState,
		Partitions:      append([]string(nil), meta.Partitions...),
		DefaultManifest: append([]string(nil), meta.DefaultManifest...),
		Defaults: defaultsPayload{
			CachePrefix:   meta.Defaults.CachePrefix,
			Version:       meta.Defaults.Version,
			APIPrefix:     meta.Defaults.APIPrefix,
			DashboardPath: meta.Defaults.DashboardPath,
		},
	}
}

func encodeSiteBindings(routes []*server.SiteRoute) []siteBindingPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]siteBindingPayload, 0, len(routes))
	for _, route := range routes {
		site := route.Config()
		key := route.ModuleKey()
		legacy := false
		if meta, ok := swmodule.Resolve(key); ok {
			legacy = meta.MigrationState == swmodule.MigrationStateLegacy
		}
		result = append(result, siteBindingPayload{
			SiteName:  site.Name,
			ModuleKey: key,
			Domain:    site.Domain,
			Port:      route.ListenPort,
			Legacy:    legacy,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SiteName < result[j].SiteName
	})
	return result
}
