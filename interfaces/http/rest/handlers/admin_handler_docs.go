package handlers

// This file contains OpenAPI/Swagger documentation for AdminHandler endpoints

// ListConfigs lists stored provider configs of one kind
// @Summary List provider configs
// @Description Lists embedding or extraction configs; API keys never appear, only the env var names that hold them
// @Tags admin
// @Produce json
// @Success 200 {object} api.ModelConfigList "Configs"
// @Router /admin/embedding-config [get]

// PutConfig upserts a provider config by name
// @Summary Store provider config
// @Description Creates a config or updates the one with the same name; change-protected configs are refused
// @Tags admin
// @Accept json
// @Produce json
// @Param request body api.ModelConfigRequest true "Provider profile"
// @Success 200 {object} api.ModelConfigView "Updated config"
// @Success 201 {object} api.ModelConfigView "Created config"
// @Failure 400 {object} api.ErrorBody "Invalid profile"
// @Failure 409 {object} api.ErrorBody "Config is change-protected"
// @Router /admin/embedding-config [put]

// ActivateConfig activates a stored config and hot-swaps the provider
// @Summary Activate provider config
// @Description Deactivates siblings in one transaction and swaps the live client; in-flight requests finish on the old one. An embedding dimension change is refused while concepts exist
// @Tags admin
// @Accept json
// @Produce json
// @Param request body api.ActivateConfigRequest true "Config to activate"
// @Success 200 {object} api.ModelConfigView "Activated config"
// @Failure 404 {object} api.ErrorBody "Config not found"
// @Failure 409 {object} api.ErrorBody "Dimension conflict with existing concepts"
// @Failure 503 {object} api.ErrorBody "Provider client could not be built; previous config restored"
// @Router /admin/embedding-config/activate [post]

// DeleteConfig deletes a stored config
// @Summary Delete provider config
// @Description Deletes an inactive config; delete-protected and active configs are refused
// @Tags admin
// @Param configID path string true "Config ID"
// @Success 204 "Deleted"
// @Failure 404 {object} api.ErrorBody "Config not found"
// @Failure 409 {object} api.ErrorBody "Config is active or delete-protected"
// @Router /admin/embedding-config/{configID} [delete]
