package config

import (
	"errors"
	"log"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// SeedMasterData seeds a small demo registry (dev mode only):
// two rooms with keys, one subject, a teacher and two students.
func SeedMasterData(db *gorm.DB) error {
	if err := seedRooms(db); err != nil {
		return err
	}

	if err := seedKeys(db); err != nil {
		return err
	}

	if err := seedSubjects(db); err != nil {
		return err
	}

	if err := seedUsers(db); err != nil {
		return err
	}

	log.Println("✅ Master data seeded successfully")
	return nil
}

func seedRooms(db *gorm.DB) error {
	rooms := []models.Room{
		{Code: "A101", Name: "ห้องเรียน A101", Building: "อาคาร A", IsActive: true},
		{Code: "B201", Name: "ห้องปฏิบัติการคอมพิวเตอร์ B201", Building: "อาคาร B", IsActive: true},
	}

	for _, r := range rooms {
		var existing models.Room
		if err := db.Where("code = ?", r.Code).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := db.Create(&r).Error; err != nil {
					return err
				}
				log.Printf("   Created room: %s", r.Code)
			}
		}
	}
	return nil
}

func seedKeys(db *gorm.DB) error {
	keys := []models.Key{
		{RoomCode: "A101", SlotNumber: 1, Label: "A101-1", IsActive: true},
		{RoomCode: "B201", SlotNumber: 2, Label: "B201-1", IsActive: true},
		{RoomCode: "B201", SlotNumber: 3, Label: "B201-2", IsActive: true},
	}

	for _, k := range keys {
		var existing models.Key
		if err := db.Where("slot_number = ?", k.SlotNumber).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := db.Create(&k).Error; err != nil {
					return err
				}
				log.Printf("   Created key: %s (slot %d)", k.Label, k.SlotNumber)
			}
		}
	}
	return nil
}

func seedSubjects(db *gorm.DB) error {
	subjects := []models.Subject{
		{Code: "CS101", Name: "การเขียนโปรแกรมเบื้องต้น"},
	}

	for _, sj := range subjects {
		var existing models.Subject
		if err := db.Where("code = ?", sj.Code).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := db.Create(&sj).Error; err != nil {
					return err
				}
				log.Printf("   Created subject: %s", sj.Name)
			}
		}
	}
	return nil
}

func seedUsers(db *gorm.DB) error {
	users := []models.User{
		{Code: "T0001", FullName: "อาจารย์ตัวอย่าง", Role: "TEACHER", StandingScore: 100},
		{Code: "S0001", FullName: "นักศึกษา หนึ่ง", Role: "STUDENT", StandingScore: 100},
		{Code: "S0002", FullName: "นักศึกษา สอง", Role: "STUDENT", StandingScore: 100},
		{Code: "ADMIN", FullName: "ผู้ดูแลระบบ", Role: "ADMIN", StandingScore: 100},
	}

	for _, u := range users {
		var existing models.User
		if err := db.Where("code = ?", u.Code).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := db.Create(&u).Error; err != nil {
					return err
				}
				log.Printf("   Created user: %s (%s)", u.Code, u.Role)
			}
		}
	}
	return nil
}
