package sync

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/temirov/upsync/internal/utils"
)

const (
	// DefaultConfigurationFileName is used when neither the flag nor the
	// environment variable provides a path.
	DefaultConfigurationFileName = "bot_config.yaml"
	// EnvConfigurationPath overrides the configuration file location.
	EnvConfigurationPath = "UPSYNC_CONFIG"

	configurationReadErrorTemplateConstant   = "failed to read bot configuration %s: %w"
	configurationParseErrorTemplateConstant  = "failed to parse bot configuration %s: %w"
	configurationDecodeErrorTemplateConstant = "failed to decode bot configuration %s: %w"
	configErrorTemplateConstant              = "configuration: %s %s"
	requiredFieldMessageConstant             = "is required"
	typeMismatchMessageTemplateConstant      = "must be of type %s, not %s"
	indexedFieldTemplateConstant             = "%s[%d]"
	nestedFieldTemplateConstant              = "%s.%s"

	upstreamFieldNameConstant       = "upstream"
	downstreamFieldNameConstant     = "downstream"
	credentialFieldNameConstant     = "credential"
	overlayBranchFieldNameConstant  = "overlay_branch"
	forceOverlayFieldNameConstant   = "force_overlay"
	exitOnErrorFieldNameConstant    = "exit_on_error"
	noPushFieldNameConstant         = "no_push"
	noIssueFieldNameConstant        = "no_issue"
	assigneesFieldNameConstant      = "assignees"
	logLevelFieldNameConstant       = "log_level"
	branchesFieldNameConstant       = "branches"
	preCommitHooksFieldNameConstant = "pre_commit_hooks"
	hookNameFieldNameConstant       = "name"
	hookCommandFieldNameConstant    = "command"
	branchSourceFieldNameConstant   = "source"
	branchTargetFieldNameConstant   = "target"

	yamlTypeStringConstant  = "string"
	yamlTypeBoolConstant    = "bool"
	yamlTypeIntConstant     = "int"
	yamlTypeFloatConstant   = "float"
	yamlTypeListConstant    = "list"
	yamlTypeMappingConstant = "mapping"
	yamlTypeNullConstant    = "null"
)

// ConfigError reports a missing or mistyped bot configuration field.
type ConfigError struct {
	Field   string
	Message string
}

// Error names the offending field.
func (configError ConfigError) Error() string {
	return fmt.Sprintf(configErrorTemplateConstant, configError.Field, configError.Message)
}

func requiredFieldError(fieldName string) ConfigError {
	return ConfigError{Field: fieldName, Message: requiredFieldMessageConstant}
}

func typeMismatchError(fieldName string, expectedType string, actualValue any) ConfigError {
	return ConfigError{
		Field:   fieldName,
		Message: fmt.Sprintf(typeMismatchMessageTemplateConstant, expectedType, yamlTypeName(actualValue)),
	}
}

// BranchPairConfiguration maps one upstream source branch onto a downstream target.
type BranchPairConfiguration struct {
	Source       string `mapstructure:"source"`
	Target       string `mapstructure:"target"`
	ForceOverlay bool   `mapstructure:"force_overlay"`
}

// HookConfiguration describes one verification hook.
type HookConfiguration struct {
	Name    string   `mapstructure:"name"`
	Command []string `mapstructure:"command"`
}

// BotConfiguration is the immutable, validated bot configuration.
type BotConfiguration struct {
	Upstream       string                    `mapstructure:"upstream"`
	Downstream     string                    `mapstructure:"downstream"`
	Credential     string                    `mapstructure:"credential"`
	OverlayBranch  string                    `mapstructure:"overlay_branch"`
	ForceOverlay   bool                      `mapstructure:"force_overlay"`
	ExitOnError    bool                      `mapstructure:"exit_on_error"`
	NoPush         bool                      `mapstructure:"no_push"`
	NoIssue        bool                      `mapstructure:"no_issue"`
	Assignees      []string                  `mapstructure:"assignees"`
	LogLevel       string                    `mapstructure:"log_level"`
	Branches       []BranchPairConfiguration `mapstructure:"branches"`
	PreCommitHooks []HookConfiguration       `mapstructure:"pre_commit_hooks"`
}

// ResolveConfigurationPath picks the configuration file location from the
// flag value, the environment, or the default, in that order.
func ResolveConfigurationPath(flagValue string) string {
	trimmedFlagValue := strings.TrimSpace(flagValue)
	if len(trimmedFlagValue) > 0 {
		return trimmedFlagValue
	}
	if environmentPath := strings.TrimSpace(os.Getenv(EnvConfigurationPath)); len(environmentPath) > 0 {
		return environmentPath
	}
	return DefaultConfigurationFileName
}

// LoadBotConfiguration reads, type-checks, decodes, and validates the bot
// configuration file. Raw document type checks run before struct decoding so
// mismatches report the offending YAML type.
func LoadBotConfiguration(configurationFilePath string) (BotConfiguration, error) {
	configuration, decodeError := decodeBotConfiguration(configurationFilePath)
	if decodeError != nil {
		return BotConfiguration{}, decodeError
	}
	if validationError := configuration.validate(); validationError != nil {
		return BotConfiguration{}, validationError
	}
	return configuration, nil
}

// decodeBotConfiguration reads, type-checks, and decodes the configuration
// file without enforcing required fields. The command path decodes first,
// merges flag overrides, and validates the merged result, so a file that
// omits a field a flag supplies still loads.
func decodeBotConfiguration(configurationFilePath string) (BotConfiguration, error) {
	configurationBytes, readError := os.ReadFile(configurationFilePath)
	if readError != nil {
		return BotConfiguration{}, fmt.Errorf(configurationReadErrorTemplateConstant, configurationFilePath, readError)
	}

	var rawDocument map[string]any
	if parseError := yaml.Unmarshal(configurationBytes, &rawDocument); parseError != nil {
		return BotConfiguration{}, fmt.Errorf(configurationParseErrorTemplateConstant, configurationFilePath, parseError)
	}

	if typeError := validateRawDocument(rawDocument); typeError != nil {
		return BotConfiguration{}, typeError
	}

	var configuration BotConfiguration
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &configuration})
	if decoderError != nil {
		return BotConfiguration{}, decoderError
	}
	if decodeError := decoder.Decode(rawDocument); decodeError != nil {
		return BotConfiguration{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, configurationFilePath, decodeError)
	}
	return configuration, nil
}

func (configuration BotConfiguration) validate() error {
	if len(strings.TrimSpace(configuration.Upstream)) == 0 {
		return requiredFieldError(upstreamFieldNameConstant)
	}
	if len(strings.TrimSpace(configuration.Downstream)) == 0 {
		return requiredFieldError(downstreamFieldNameConstant)
	}
	if len(configuration.Branches) == 0 {
		return requiredFieldError(branchesFieldNameConstant)
	}
	for pairIndex, branchPair := range configuration.Branches {
		if len(strings.TrimSpace(branchPair.Source)) == 0 {
			return requiredFieldError(indexedNestedFieldName(branchesFieldNameConstant, pairIndex, branchSourceFieldNameConstant))
		}
		if len(strings.TrimSpace(branchPair.Target)) == 0 {
			return requiredFieldError(indexedNestedFieldName(branchesFieldNameConstant, pairIndex, branchTargetFieldNameConstant))
		}
	}
	for hookIndex, verificationHook := range configuration.PreCommitHooks {
		if len(strings.TrimSpace(verificationHook.Name)) == 0 {
			return requiredFieldError(indexedNestedFieldName(preCommitHooksFieldNameConstant, hookIndex, hookNameFieldNameConstant))
		}
		if len(verificationHook.Command) == 0 {
			return requiredFieldError(indexedNestedFieldName(preCommitHooksFieldNameConstant, hookIndex, hookCommandFieldNameConstant))
		}
	}
	if _, logLevelError := utils.ParseLogLevel(configuration.LogLevel); logLevelError != nil {
		return ConfigError{Field: logLevelFieldNameConstant, Message: logLevelError.Error()}
	}
	return nil
}

func validateRawDocument(rawDocument map[string]any) error {
	stringFieldNames := []string{
		upstreamFieldNameConstant,
		downstreamFieldNameConstant,
		credentialFieldNameConstant,
		overlayBranchFieldNameConstant,
		logLevelFieldNameConstant,
	}
	for _, fieldName := range stringFieldNames {
		if fieldValue, present := rawDocument[fieldName]; present {
			if _, isString := fieldValue.(string); !isString {
				return typeMismatchError(fieldName, yamlTypeStringConstant, fieldValue)
			}
		}
	}

	booleanFieldNames := []string{
		forceOverlayFieldNameConstant,
		exitOnErrorFieldNameConstant,
		noPushFieldNameConstant,
		noIssueFieldNameConstant,
	}
	for _, fieldName := range booleanFieldNames {
		if fieldValue, present := rawDocument[fieldName]; present {
			if _, isBoolean := fieldValue.(bool); !isBoolean {
				return typeMismatchError(fieldName, yamlTypeBoolConstant, fieldValue)
			}
		}
	}

	if assigneesValue, present := rawDocument[assigneesFieldNameConstant]; present {
		assigneeList, isList := assigneesValue.([]any)
		if !isList {
			return typeMismatchError(assigneesFieldNameConstant, yamlTypeListConstant, assigneesValue)
		}
		for assigneeIndex, assigneeValue := range assigneeList {
			if _, isString := assigneeValue.(string); !isString {
				return typeMismatchError(indexedFieldName(assigneesFieldNameConstant, assigneeIndex), yamlTypeStringConstant, assigneeValue)
			}
		}
	}

	if branchesValue, present := rawDocument[branchesFieldNameConstant]; present {
		if validationError := validateRawBranches(branchesValue); validationError != nil {
			return validationError
		}
	}

	if hooksValue, present := rawDocument[preCommitHooksFieldNameConstant]; present {
		if validationError := validateRawHooks(hooksValue); validationError != nil {
			return validationError
		}
	}
	return nil
}

func validateRawBranches(branchesValue any) error {
	branchList, isList := branchesValue.([]any)
	if !isList {
		return typeMismatchError(branchesFieldNameConstant, yamlTypeListConstant, branchesValue)
	}
	for pairIndex, pairValue := range branchList {
		pairFieldName := indexedFieldName(branchesFieldNameConstant, pairIndex)
		pairMapping, isMapping := pairValue.(map[string]any)
		if !isMapping {
			return typeMismatchError(pairFieldName, yamlTypeMappingConstant, pairValue)
		}
		for _, stringFieldName := range []string{branchSourceFieldNameConstant, branchTargetFieldNameConstant} {
			if fieldValue, present := pairMapping[stringFieldName]; present {
				if _, isString := fieldValue.(string); !isString {
					return typeMismatchError(nestedFieldName(pairFieldName, stringFieldName), yamlTypeStringConstant, fieldValue)
				}
			}
		}
		if forceValue, present := pairMapping[forceOverlayFieldNameConstant]; present {
			if _, isBoolean := forceValue.(bool); !isBoolean {
				return typeMismatchError(nestedFieldName(pairFieldName, forceOverlayFieldNameConstant), yamlTypeBoolConstant, forceValue)
			}
		}
	}
	return nil
}

func validateRawHooks(hooksValue any) error {
	hookList, isList := hooksValue.([]any)
	if !isList {
		return typeMismatchError(preCommitHooksFieldNameConstant, yamlTypeListConstant, hooksValue)
	}
	for hookIndex, hookValue := range hookList {
		hookFieldName := indexedFieldName(preCommitHooksFieldNameConstant, hookIndex)
		hookMapping, isMapping := hookValue.(map[string]any)
		if !isMapping {
			return typeMismatchError(hookFieldName, yamlTypeMappingConstant, hookValue)
		}
		if nameValue, present := hookMapping[hookNameFieldNameConstant]; present {
			if _, isString := nameValue.(string); !isString {
				return typeMismatchError(nestedFieldName(hookFieldName, hookNameFieldNameConstant), yamlTypeStringConstant, nameValue)
			}
		}
		if commandValue, present := hookMapping[hookCommandFieldNameConstant]; present {
			commandList, isCommandList := commandValue.([]any)
			if !isCommandList {
				return typeMismatchError(nestedFieldName(hookFieldName, hookCommandFieldNameConstant), yamlTypeListConstant, commandValue)
			}
			for wordIndex, commandWord := range commandList {
				if _, isString := commandWord.(string); !isString {
					return typeMismatchError(indexedFieldName(nestedFieldName(hookFieldName, hookCommandFieldNameConstant), wordIndex), yamlTypeStringConstant, commandWord)
				}
			}
		}
	}
	return nil
}

func indexedFieldName(fieldName string, index int) string {
	return fmt.Sprintf(indexedFieldTemplateConstant, fieldName, index)
}

func nestedFieldName(parentFieldName string, childFieldName string) string {
	return fmt.Sprintf(nestedFieldTemplateConstant, parentFieldName, childFieldName)
}

func indexedNestedFieldName(fieldName string, index int, childFieldName string) string {
	return nestedFieldName(indexedFieldName(fieldName, index), childFieldName)
}

func yamlTypeName(fieldValue any) string {
	switch fieldValue.(type) {
	case nil:
		return yamlTypeNullConstant
	case string:
		return yamlTypeStringConstant
	case bool:
		return yamlTypeBoolConstant
	case int, int64:
		return yamlTypeIntConstant
	case float64:
		return yamlTypeFloatConstant
	case []any:
		return yamlTypeListConstant
	case map[string]any:
		return yamlTypeMappingConstant
	default:
		return fmt.Sprintf("%T", fieldValue)
	}
}
