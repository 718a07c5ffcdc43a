package wallet

import (
	"google.golang.org/api/walletobjects/v1"

	"github.com/orvull/sparkcards/internal/models"
)

func toGeneric(id, classID string, f models.PassFields) *walletobjects.GenericObject {
	return &walletobjects.GenericObject{
		Id:                 id,
		ClassId:            classID,
		State:              f.State,
		CardTitle:          localized(f.Title),
		Header:             localized(f.Header),
		Subheader:          localized(f.Subheader),
		HeroImage:          image(f.HeroImageURI),
		HexBackgroundColor: f.Background,
		TextModulesData:    textModules(f.Modules),
	}
}

func fromGeneric(o *walletobjects.GenericObject) *models.PassObject {
	return &models.PassObject{
		ID:      o.Id,
		ClassID: o.ClassId,
		Kind:    models.KindGeneric,
		PassFields: models.PassFields{
			Title:        unlocalized(o.CardTitle),
			Header:       unlocalized(o.Header),
			Subheader:    unlocalized(o.Subheader),
			HeroImageURI: imageURI(o.HeroImage),
			Modules:      fromTextModules(o.TextModulesData),
			Background:   o.HexBackgroundColor,
			State:        o.State,
		},
	}
}

// Loyalty objects carry title and colours on the class; the client name is
// the account name.
func toLoyalty(id, classID string, f models.PassFields) *walletobjects.LoyaltyObject {
	return &walletobjects.LoyaltyObject{
		Id:              id,
		ClassId:         classID,
		State:           f.State,
		AccountName:     f.Subheader,
		HeroImage:       image(f.HeroImageURI),
		TextModulesData: textModules(f.Modules),
	}
}

func fromLoyalty(o *walletobjects.LoyaltyObject) *models.PassObject {
	return &models.PassObject{
		ID:      o.Id,
		ClassID: o.ClassId,
		Kind:    models.KindLoyalty,
		PassFields: models.PassFields{
			Subheader:    o.AccountName,
			HeroImageURI: imageURI(o.HeroImage),
			Modules:      fromTextModules(o.TextModulesData),
			State:        o.State,
		},
	}
}

func localized(v string) *walletobjects.LocalizedString {
	if v == "" {
		return nil
	}
	return &walletobjects.LocalizedString{
		DefaultValue: &walletobjects.TranslatedString{Language: language, Value: v},
	}
}

func unlocalized(s *walletobjects.LocalizedString) string {
	if s == nil || s.DefaultValue == nil {
		return ""
	}
	return s.DefaultValue.Value
}

func image(uri string) *walletobjects.Image {
	if uri == "" {
		return nil
	}
	return &walletobjects.Image{SourceUri: &walletobjects.ImageUri{Uri: uri}}
}

func imageURI(img *walletobjects.Image) string {
	if img == nil || img.SourceUri == nil {
		return ""
	}
	return img.SourceUri.Uri
}

func textModules(mods []models.TextModule) []*walletobjects.TextModuleData {
	if mods == nil {
		return nil
	}
	out := make([]*walletobjects.TextModuleData, 0, len(mods))
	for _, m := range mods {
		out = append(out, &walletobjects.TextModuleData{Id: m.ID, Header: m.Header, Body: m.Body})
	}
	return out
}

func fromTextModules(mods []*walletobjects.TextModuleData) []models.TextModule {
	if len(mods) == 0 {
		return nil
	}
	out := make([]models.TextModule, 0, len(mods))
	for _, m := range mods {
		if m == nil {
			continue
		}
		out = append(out, models.TextModule{ID: m.Id, Header: m.Header, Body: m.Body})
	}
	return out
}
